package influxsink

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"clobex.com/internal/kline"
	"clobex.com/pkg/logger"
)

type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string

	BatchSize     uint
	FlushInterval time.Duration
	UseGzip       bool
}

func (cfg Config) String() string {
	return fmt.Sprintf("url=%s org=%s bucket=%s batch=%d flush=%s gzip=%v",
		cfg.URL, cfg.Org, cfg.Bucket, cfg.BatchSize, cfg.FlushInterval, cfg.UseGzip)
}

// Sink 把收盘的 bar 异步批量写入 InfluxDB
// 精度按市场换算成人类可读数值，未配置的市场按 18/18
type Sink struct {
	client   influxdb2.Client
	write    api.WriteAPI
	decimals map[string]kline.Decimals
}

func New(cfg Config, decimals map[string]kline.Decimals) *Sink {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 2000
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = time.Second
	}
	opt := influxdb2.DefaultOptions().
		SetBatchSize(cfg.BatchSize).
		SetFlushInterval(uint(cfg.FlushInterval.Milliseconds())).
		SetUseGZip(cfg.UseGzip)

	c := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opt)
	w := c.WriteAPI(cfg.Org, cfg.Bucket)

	// Errors() 必须有人消费，否则异步写入会阻塞
	go func() {
		for err := range w.Errors() {
			logger.Warn(context.Background(), "influx write error", zap.Error(err))
		}
	}()
	return &Sink{client: c, write: w, decimals: decimals}
}

// Point measurement=kline，tag=market/interval
func (s *Sink) Point(b kline.Bar) *write.Point {
	d, ok := s.decimals[b.Market]
	if !ok {
		d = kline.Decimals{Base: 18, Quote: 18}
	}
	dto := kline.ToDTO(b, d)
	tags := map[string]string{
		"market":   b.Market,
		"interval": dto.Interval,
	}
	fields := map[string]interface{}{
		"o":  num(dto.Open),
		"h":  num(dto.High),
		"l":  num(dto.Low),
		"c":  num(dto.Close),
		"v":  num(dto.Volume),
		"qv": num(dto.QuoteVolume),
		"n":  b.Count,
	}
	return write.NewPoint("kline", tags, fields, time.UnixMilli(b.StartMs))
}

func num(s string) float64 {
	return decimal.RequireFromString(s).InexactFloat64()
}

func (s *Sink) WriteBar(b kline.Bar) { s.write.WritePoint(s.Point(b)) }

func (s *Sink) Flush() { s.write.Flush() }

// Close 会先 flush 缓冲区
func (s *Sink) Close() { s.client.Close() }

func (s *Sink) Run(ctx context.Context, in <-chan kline.Bar) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b, ok := <-in:
			if !ok {
				return nil
			}
			s.WriteBar(b)
		}
	}
}
