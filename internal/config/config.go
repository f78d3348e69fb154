package config

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"clobex.com/internal/clob"
	"clobex.com/internal/engine"
	"clobex.com/internal/fee"
	"clobex.com/internal/fixed"
	"clobex.com/internal/kline"
	"clobex.com/internal/kline/influxsink"
)

// 总配置，对应 config/clobd.yaml
type Config struct {
	Name    string         `mapstructure:"name" yaml:"name"`
	Log     LogConfig      `mapstructure:"log" yaml:"log"`
	HTTP    HTTPConfig     `mapstructure:"http" yaml:"http"`
	Admin   AdminConfig    `mapstructure:"admin" yaml:"admin"`
	Engine  EngineConfig   `mapstructure:"engine" yaml:"engine"`
	Nats    NatsConfig     `mapstructure:"nats" yaml:"nats"`
	Markets []MarketConfig `mapstructure:"markets" yaml:"markets"`

	MarketData MarketDataConfig `mapstructure:"market_data" yaml:"market_data"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file" yaml:"file"`
}

type HTTPConfig struct {
	Addr      string  `mapstructure:"addr" yaml:"addr"`
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"` // 每个 IP+路由 每秒请求数
	Burst     int     `mapstructure:"burst" yaml:"burst"`
}

type AdminConfig struct {
	Token string `mapstructure:"token" yaml:"token"`
}

type EngineConfig struct {
	WALDir          string        `mapstructure:"wal_dir" yaml:"wal_dir"`
	EnableCmdWAL    bool          `mapstructure:"enable_cmd_wal" yaml:"enable_cmd_wal"`
	EnableOutbox    bool          `mapstructure:"enable_outbox" yaml:"enable_outbox"`
	EnablePublisher bool          `mapstructure:"enable_publisher" yaml:"enable_publisher"`
	Codec           string        `mapstructure:"codec" yaml:"codec"` // binary / json
	MailboxSize     int           `mapstructure:"mailbox_size" yaml:"mailbox_size"`
	BatchMax        int           `mapstructure:"batch_max" yaml:"batch_max"`
	EventBusSize    int           `mapstructure:"event_bus_size" yaml:"event_bus_size"`
	PublisherPoll   time.Duration `mapstructure:"publisher_poll" yaml:"publisher_poll"`
}

// NatsConfig url 为空时用进程内 broker
type NatsConfig struct {
	URL  string `mapstructure:"url" yaml:"url"`
	Name string `mapstructure:"name" yaml:"name"`
}

// MarketDataConfig 成交 -> K 线聚合，HTTP 查询 + websocket 推送，可选写 InfluxDB
type MarketDataConfig struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	Shards        int           `mapstructure:"shards" yaml:"shards"`
	ReorderWindow time.Duration `mapstructure:"reorder_window" yaml:"reorder_window"`
	Tick          time.Duration `mapstructure:"tick" yaml:"tick"`
	TZOffset      time.Duration `mapstructure:"tz_offset" yaml:"tz_offset"`
	FillGaps      bool          `mapstructure:"fill_gaps" yaml:"fill_gaps"` // 1m/1h/1d 补空K
	History       int           `mapstructure:"history" yaml:"history"`     // 每个周期保留多少根
	WS            bool          `mapstructure:"ws" yaml:"ws"`
	Influx        InfluxConfig  `mapstructure:"influx" yaml:"influx"`
}

// InfluxConfig url 为空不写
type InfluxConfig struct {
	URL           string        `mapstructure:"url" yaml:"url"`
	Token         string        `mapstructure:"token" yaml:"token"`
	Org           string        `mapstructure:"org" yaml:"org"`
	Bucket        string        `mapstructure:"bucket" yaml:"bucket"`
	BatchSize     uint          `mapstructure:"batch_size" yaml:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval" yaml:"flush_interval"`
	UseGzip       bool          `mapstructure:"use_gzip" yaml:"use_gzip"`
}

func (c MarketDataConfig) KlineConfig() kline.Config {
	shards := c.Shards
	if shards <= 0 {
		shards = 4
	}
	return kline.Config{
		Shards:        shards,
		ReorderWindow: c.ReorderWindow,
		TZOffset:      c.TZOffset,
		FillGaps1m:    c.FillGaps,
		FillGaps1h:    c.FillGaps,
		FillGaps1d:    c.FillGaps,
		DropWhenFull:  true,
		Tick:          c.Tick,
	}
}

func (c InfluxConfig) SinkConfig() influxsink.Config {
	return influxsink.Config{
		URL:           c.URL,
		Token:         c.Token,
		Org:           c.Org,
		Bucket:        c.Bucket,
		BatchSize:     c.BatchSize,
		FlushInterval: c.FlushInterval,
		UseGzip:       c.UseGzip,
	}
}

// KlineDecimals 每个市场的精度，行情输出格式化用
func (c Config) KlineDecimals() map[string]kline.Decimals {
	out := make(map[string]kline.Decimals, len(c.Markets))
	for _, m := range c.Markets {
		out[m.Name] = kline.Decimals{Base: decimalsOr18(m.BaseDecimals), Quote: decimalsOr18(m.QuoteDecimals)}
	}
	return out
}

type MarketConfig struct {
	Name          string    `mapstructure:"name" yaml:"name"`
	Base          string    `mapstructure:"base" yaml:"base"`
	Quote         string    `mapstructure:"quote" yaml:"quote"`
	BaseDecimals  int32     `mapstructure:"base_decimals" yaml:"base_decimals"`
	QuoteDecimals int32     `mapstructure:"quote_decimals" yaml:"quote_decimals"`
	DeferMatching bool      `mapstructure:"defer_matching" yaml:"defer_matching"`
	MaxMatches    int       `mapstructure:"max_matches" yaml:"max_matches"`
	FeeRecipient  string    `mapstructure:"fee_recipient" yaml:"fee_recipient"`
	Fees          FeeConfig `mapstructure:"fees" yaml:"fees"`
}

type FeeConfig struct {
	Mode         string       `mapstructure:"mode" yaml:"mode" json:"mode"` // flat / tiered
	MakerBps     uint32       `mapstructure:"maker_bps" yaml:"maker_bps" json:"maker_bps"`
	TakerBps     uint32       `mapstructure:"taker_bps" yaml:"taker_bps" json:"taker_bps"`
	WindowSecs   int64        `mapstructure:"window_secs" yaml:"window_secs" json:"window_secs"`
	RebateBps    uint32       `mapstructure:"rebate_bps" yaml:"rebate_bps" json:"rebate_bps"`
	MarketMakers []string     `mapstructure:"market_makers" yaml:"market_makers" json:"market_makers"`
	Tiers        []TierConfig `mapstructure:"tiers" yaml:"tiers" json:"tiers"`
}

// TierConfig 成交额门槛用报价资产的十进制字符串，例如 "100000.5"
type TierConfig struct {
	MinVolume string `mapstructure:"min_volume" yaml:"min_volume" json:"min_volume"`
	MakerBps  uint32 `mapstructure:"maker_bps" yaml:"maker_bps" json:"maker_bps"`
	TakerBps  uint32 `mapstructure:"taker_bps" yaml:"taker_bps" json:"taker_bps"`
}

// Schedule 转成费率表；门槛按报价资产精度解析
func (f FeeConfig) Schedule(quoteDecimals int32) (fee.Schedule, error) {
	s := fee.Schedule{
		Mode:         f.Mode,
		MakerBps:     f.MakerBps,
		TakerBps:     f.TakerBps,
		WindowSecs:   f.WindowSecs,
		RebateBps:    f.RebateBps,
		MarketMakers: f.MarketMakers,
	}
	if s.Mode == "" {
		s.Mode = fee.ModeFlat
	}
	for i, t := range f.Tiers {
		v := new(uint256.Int)
		if t.MinVolume != "" {
			var err error
			if v, err = fixed.ParseUnits(t.MinVolume, quoteDecimals); err != nil {
				return fee.Schedule{}, fmt.Errorf("tier %d min_volume: %w", i, err)
			}
		}
		s.Tiers = append(s.Tiers, fee.Tier{MinVolume: v, MakerBps: t.MakerBps, TakerBps: t.TakerBps})
	}
	return s, nil
}

func decimalsOr18(d int32) int32 {
	if d == 0 {
		return 18
	}
	return d
}

// ClobConfig 每次调用都新建费率策略（策略带状态，不能在多个引擎间共享）
func (m MarketConfig) ClobConfig() (clob.Config, error) {
	s, err := m.Fees.Schedule(decimalsOr18(m.QuoteDecimals))
	if err != nil {
		return clob.Config{}, fmt.Errorf("market %s: %w", m.Name, err)
	}
	strategy, err := fee.FromSchedule(s)
	if err != nil {
		return clob.Config{}, fmt.Errorf("market %s: %w", m.Name, err)
	}
	return clob.Config{
		Name:              m.Name,
		Base:              m.Base,
		Quote:             m.Quote,
		BaseDecimals:      m.BaseDecimals,
		QuoteDecimals:     m.QuoteDecimals,
		FeeRecipient:      m.FeeRecipient,
		Fees:              strategy,
		DeferMatching:     m.DeferMatching,
		MaxMatchesPerCall: m.MaxMatches,
	}, nil
}

// EngineConfig 组装引擎配置
func (c Config) EngineConfig() (engine.Config, error) {
	ec := engine.Config{
		Sequencer: engine.SequencerConfig{
			MailboxSize: c.Engine.MailboxSize,
			BatchMax:    c.Engine.BatchMax,
		},
		EventBusSize:    c.Engine.EventBusSize,
		WALDir:          c.Engine.WALDir,
		EnableCmdWAL:    c.Engine.EnableCmdWAL,
		EnableOutbox:    c.Engine.EnableOutbox,
		EnablePublisher: c.Engine.EnablePublisher,
		PublisherPoll:   c.Engine.PublisherPoll,
	}
	switch c.Engine.Codec {
	case "", "binary":
		ec.CmdCodec, ec.EvCodec = engine.BinaryCmdCodec{}, engine.BinaryEvCodec{}
	case "json":
		ec.CmdCodec, ec.EvCodec = engine.JSONCmdCodec{Version: 1}, engine.JSONEvCodec{Version: 1}
	default:
		return engine.Config{}, fmt.Errorf("engine.codec: unknown %q", c.Engine.Codec)
	}
	for _, m := range c.Markets {
		mc, err := m.ClobConfig()
		if err != nil {
			return engine.Config{}, err
		}
		ec.Markets = append(ec.Markets, mc)
	}
	if len(ec.Markets) == 0 {
		return engine.Config{}, fmt.Errorf("no markets configured")
	}
	return ec, nil
}

// FeeCommands 热更新：对比新旧配置，生成需要下发的费率命令
// 只处理已存在的市场；模式不变且是固定费率时发 CmdSetFees，否则整体替换费率表
func FeeCommands(old, cur []MarketConfig) ([]engine.Command, error) {
	prev := make(map[string]MarketConfig, len(old))
	for _, m := range old {
		prev[m.Name] = m
	}
	var cmds []engine.Command
	for _, m := range cur {
		p, ok := prev[m.Name]
		if !ok {
			continue
		}
		if p.FeeRecipient != m.FeeRecipient && m.FeeRecipient != "" {
			cmds = append(cmds, engine.Command{Type: engine.CmdSetFeeRecipient, Market: m.Name, Address: m.FeeRecipient})
		}
		if sameFees(p.Fees, m.Fees) {
			continue
		}
		s, err := m.Fees.Schedule(decimalsOr18(m.QuoteDecimals))
		if err != nil {
			return nil, fmt.Errorf("market %s: %w", m.Name, err)
		}
		if s.Mode == fee.ModeFlat && (p.Fees.Mode == "" || p.Fees.Mode == fee.ModeFlat) {
			cmds = append(cmds, engine.Command{Type: engine.CmdSetFees, Market: m.Name, MakerBps: s.MakerBps, TakerBps: s.TakerBps})
			continue
		}
		cmds = append(cmds, engine.Command{Type: engine.CmdSetFeeSchedule, Market: m.Name, Schedule: &s})
	}
	return cmds, nil
}

func sameFees(a, b FeeConfig) bool {
	if a.Mode != b.Mode || a.MakerBps != b.MakerBps || a.TakerBps != b.TakerBps ||
		a.WindowSecs != b.WindowSecs || a.RebateBps != b.RebateBps ||
		len(a.MarketMakers) != len(b.MarketMakers) || len(a.Tiers) != len(b.Tiers) {
		return false
	}
	for i := range a.MarketMakers {
		if a.MarketMakers[i] != b.MarketMakers[i] {
			return false
		}
	}
	for i := range a.Tiers {
		if a.Tiers[i] != b.Tiers[i] {
			return false
		}
	}
	return true
}

// Clone 热更新前保存一份旧配置
func (c Config) Clone() Config {
	out := c
	out.Markets = make([]MarketConfig, len(c.Markets))
	for i, m := range c.Markets {
		m.Fees.MarketMakers = append([]string(nil), m.Fees.MarketMakers...)
		m.Fees.Tiers = append([]TierConfig(nil), m.Fees.Tiers...)
		out.Markets[i] = m
	}
	return out
}
