package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"

	"clobex.com/internal/clob"
	"clobex.com/internal/fee"
	"clobex.com/pkg/logger"
)

const genesisFile = "genesis.json"

// ConfigReqID 由配置（启动对齐、热更新）产生的命令带这个请求 id
const ConfigReqID = "config"

// marketFees 一个市场的费率表和收款账户
type marketFees struct {
	Fees         fee.Schedule `json:"fees"`
	FeeRecipient string       `json:"fee_recipient,omitempty"`
}

// genesis 命令 WAL 第一条记录之前各市场的费率状态；回放从这里开始，不看当前配置
type genesis struct {
	Markets map[string]marketFees `json:"markets"`
}

func snapshotFees(x *Exchange) map[string]marketFees {
	out := make(map[string]marketFees, len(x.names))
	for _, m := range x.Markets() {
		s, rcpt := m.Fees()
		out[m.Name()] = marketFees{Fees: s, FeeRecipient: rcpt}
	}
	return out
}

func loadGenesis(path string) (*genesis, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var g genesis
	if err := json.Unmarshal(b, &g); err != nil {
		return nil, fmt.Errorf("genesis %s: %w", path, err)
	}
	if g.Markets == nil {
		g.Markets = map[string]marketFees{}
	}
	return &g, nil
}

func storeGenesis(path string, g *genesis) error {
	b, err := json.Marshal(g)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func walEmpty(path string) (bool, error) {
	st, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return st.Size() == 0, nil
}

// prepareGenesis 在回放前把市场的费率重置成 genesis 里记录的状态。
// 新 WAL 直接把当前配置记成 genesis；genesis 里没有的市场按当前配置补进去
func prepareGenesis(dir, cmdPath string, x *Exchange, want map[string]marketFees) error {
	path := filepath.Join(dir, genesisFile)
	fresh, err := walEmpty(cmdPath)
	if err != nil {
		return err
	}
	var g *genesis
	if !fresh {
		if g, err = loadGenesis(path); err != nil {
			return err
		}
		if g == nil {
			logger.Warn(context.Background(), "cmd wal has no genesis, replaying on configured fees", zap.String("path", path))
		}
	}
	if g == nil {
		g = &genesis{Markets: map[string]marketFees{}}
	}

	dirty := fresh
	for _, m := range x.Markets() {
		gm, ok := g.Markets[m.Name()]
		if !ok {
			g.Markets[m.Name()] = want[m.Name()]
			dirty = true
			continue
		}
		if err := resetFees(m, gm); err != nil {
			return fmt.Errorf("genesis %s: %w", m.Name(), err)
		}
	}
	if !dirty {
		return nil
	}
	return storeGenesis(path, g)
}

func resetFees(m *clob.Market, gm marketFees) error {
	var nop clob.NopEmitter
	// 自定义策略没法从费率表还原，保留配置里的
	if gm.Fees.Mode != fee.ModeCustom {
		s, err := fee.FromSchedule(gm.Fees)
		if err != nil {
			return err
		}
		if err := m.SetFeeStrategy(s, nop); err != nil {
			return err
		}
	}
	if gm.FeeRecipient != "" {
		return m.SetFeeRecipient(gm.FeeRecipient, nop)
	}
	return nil
}

// reconcileCommands 回放后的费率和配置不一致时（停机期间改了配置），生成对齐用的命令
func reconcileCommands(x *Exchange, want map[string]marketFees, now int64) []Command {
	var cmds []Command
	for _, m := range x.Markets() {
		w, ok := want[m.Name()]
		if !ok {
			continue
		}
		s, rcpt := m.Fees()
		if w.Fees.Mode != fee.ModeCustom && !sameSchedule(s, w.Fees) {
			sc := w.Fees
			cmds = append(cmds, Command{Type: CmdSetFeeSchedule, ReqID: ConfigReqID, ClientTs: now, Market: m.Name(), Schedule: &sc})
		}
		if w.FeeRecipient != "" && rcpt != w.FeeRecipient {
			cmds = append(cmds, Command{Type: CmdSetFeeRecipient, ReqID: ConfigReqID, ClientTs: now, Market: m.Name(), Address: w.FeeRecipient})
		}
	}
	return cmds
}

// sameSchedule 忽略做市商顺序、nil 和空切片的区别
func sameSchedule(a, b fee.Schedule) bool {
	a.MarketMakers = slices.Sorted(slices.Values(a.MarketMakers))
	b.MarketMakers = slices.Sorted(slices.Values(b.MarketMakers))
	ab, err1 := json.Marshal(a)
	bb, err2 := json.Marshal(b)
	return err1 == nil && err2 == nil && bytes.Equal(ab, bb)
}
