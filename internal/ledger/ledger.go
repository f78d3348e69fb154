package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/holiman/uint256"

	"clobex.com/internal/fixed"
)

var (
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrInsufficientLocked  = errors.New("ledger: insufficient locked balance")
	ErrInvalidAmount       = errors.New("ledger: invalid amount")
	ErrTxDone              = errors.New("ledger: transaction already committed or rolled back")
	ErrNotConserved        = errors.New("ledger: custody not conserved")
)

type Key struct {
	Trader string
	Asset  string
}

// Balance 可用 + 冻结，两者之和等于该用户在该资产上的托管总额
type Balance struct {
	Available uint256.Int
	Locked    uint256.Int
}

// Change 一次提交后某个 (trader, asset) 的最新余额
type Change struct {
	Trader    string
	Asset     string
	Available uint256.Int
	Locked    uint256.Int
}

// Ledger 所有市场共享一本账，所有写操作都必须在 Tx 内完成
type Ledger struct {
	mu       sync.Mutex
	balances map[Key]*Balance
	custody  map[string]*uint256.Int // asset -> 累计充值 - 累计提现
}

func New() *Ledger {
	return &Ledger{
		balances: make(map[Key]*Balance, 1024),
		custody:  make(map[string]*uint256.Int, 16),
	}
}

// Begin 开启事务：持有整本账的锁直到 Commit/Rollback
func (l *Ledger) Begin() *Tx {
	l.mu.Lock()
	return &Tx{
		l:           l,
		orig:        make(map[Key]*Balance, 8),
		origCustody: make(map[string]*uint256.Int, 2),
	}
}

// Deposit 单操作事务
func (l *Ledger) Deposit(trader, asset string, amount *uint256.Int) ([]Change, error) {
	tx := l.Begin()
	defer tx.Rollback()
	if err := tx.Deposit(trader, asset, amount); err != nil {
		return nil, err
	}
	return tx.Commit(), nil
}

func (l *Ledger) Withdraw(trader, asset string, amount *uint256.Int) ([]Change, error) {
	tx := l.Begin()
	defer tx.Rollback()
	if err := tx.Withdraw(trader, asset, amount); err != nil {
		return nil, err
	}
	return tx.Commit(), nil
}

// Balance 返回拷贝；不存在的账户视为 0
func (l *Ledger) Balance(trader, asset string) (available, locked *uint256.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.balances[Key{Trader: trader, Asset: asset}]
	if b == nil {
		return new(uint256.Int), new(uint256.Int)
	}
	return b.Available.Clone(), b.Locked.Clone()
}

func (l *Ledger) Custody(asset string) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c := l.custody[asset]; c != nil {
		return c.Clone()
	}
	return new(uint256.Int)
}

// Totals 某资产所有账户的可用/冻结之和
func (l *Ledger) Totals(asset string) (available, locked *uint256.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalsLocked(asset)
}

func (l *Ledger) totalsLocked(asset string) (available, locked *uint256.Int) {
	available, locked = new(uint256.Int), new(uint256.Int)
	for k, b := range l.balances {
		if k.Asset != asset {
			continue
		}
		available.Add(available, &b.Available)
		locked.Add(locked, &b.Locked)
	}
	return available, locked
}

// Assets 出现过的资产，按名称排序
func (l *Ledger) Assets() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.custody))
	for a := range l.custody {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// CheckConservation Σ(available + locked) == custody，对每种资产成立
func (l *Ledger) CheckConservation() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	seen := make(map[string]struct{}, len(l.custody))
	for asset, c := range l.custody {
		seen[asset] = struct{}{}
		avail, locked := l.totalsLocked(asset)
		sum := new(uint256.Int).Add(avail, locked)
		if !sum.Eq(c) {
			return fmt.Errorf("%w: asset=%s held=%s custody=%s", ErrNotConserved, asset, sum.Dec(), c.Dec())
		}
	}
	for k, b := range l.balances {
		if _, ok := seen[k.Asset]; ok {
			continue
		}
		if !b.Available.IsZero() || !b.Locked.IsZero() {
			return fmt.Errorf("%w: asset=%s has balances without custody", ErrNotConserved, k.Asset)
		}
	}
	return nil
}

// Tx 第一次触碰某个余额时保存原值，Rollback 时整体恢复
type Tx struct {
	l           *Ledger
	orig        map[Key]*Balance // nil 值表示事务前不存在
	origCustody map[string]*uint256.Int
	touched     []Key
	done        bool
}

func (tx *Tx) balance(trader, asset string) *Balance {
	k := Key{Trader: trader, Asset: asset}
	b := tx.l.balances[k]
	if _, ok := tx.orig[k]; !ok {
		if b != nil {
			cp := *b
			tx.orig[k] = &cp
		} else {
			tx.orig[k] = nil
		}
		tx.touched = append(tx.touched, k)
	}
	if b == nil {
		b = &Balance{}
		tx.l.balances[k] = b
	}
	return b
}

func (tx *Tx) custody(asset string) *uint256.Int {
	c := tx.l.custody[asset]
	if _, ok := tx.origCustody[asset]; !ok {
		if c != nil {
			tx.origCustody[asset] = c.Clone()
		} else {
			tx.origCustody[asset] = nil
		}
	}
	if c == nil {
		c = new(uint256.Int)
		tx.l.custody[asset] = c
	}
	return c
}

// Deposit available += amount
func (tx *Tx) Deposit(trader, asset string, amount *uint256.Int) error {
	if tx.done {
		return ErrTxDone
	}
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	b := tx.balance(trader, asset)
	if _, overflow := new(uint256.Int).AddOverflow(&b.Available, amount); overflow {
		return fixed.ErrOverflow
	}
	c := tx.custody(asset)
	if _, overflow := new(uint256.Int).AddOverflow(c, amount); overflow {
		return fixed.ErrOverflow
	}
	b.Available.Add(&b.Available, amount)
	c.Add(c, amount)
	return nil
}

// Withdraw available -= amount
func (tx *Tx) Withdraw(trader, asset string, amount *uint256.Int) error {
	if tx.done {
		return ErrTxDone
	}
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	b := tx.balance(trader, asset)
	if b.Available.Lt(amount) {
		return fmt.Errorf("%w: %s %s available=%s want=%s", ErrInsufficientBalance, trader, asset, b.Available.Dec(), amount.Dec())
	}
	b.Available.Sub(&b.Available, amount)
	c := tx.custody(asset)
	c.Sub(c, amount)
	return nil
}

// Lock available -> locked
func (tx *Tx) Lock(trader, asset string, amount *uint256.Int) error {
	if tx.done {
		return ErrTxDone
	}
	if amount == nil || amount.IsZero() {
		return nil
	}
	b := tx.balance(trader, asset)
	if b.Available.Lt(amount) {
		return fmt.Errorf("%w: %s %s available=%s want=%s", ErrInsufficientBalance, trader, asset, b.Available.Dec(), amount.Dec())
	}
	b.Available.Sub(&b.Available, amount)
	b.Locked.Add(&b.Locked, amount)
	return nil
}

// Unlock locked -> available
func (tx *Tx) Unlock(trader, asset string, amount *uint256.Int) error {
	if tx.done {
		return ErrTxDone
	}
	if amount == nil || amount.IsZero() {
		return nil
	}
	b := tx.balance(trader, asset)
	if b.Locked.Lt(amount) {
		return fmt.Errorf("%w: %s %s locked=%s want=%s", ErrInsufficientLocked, trader, asset, b.Locked.Dec(), amount.Dec())
	}
	b.Locked.Sub(&b.Locked, amount)
	b.Available.Add(&b.Available, amount)
	return nil
}

// SettleFill 从 payer 的冻结中扣 amount，payee 收到 amount-fee，fee 进入 feeSink 的可用余额
func (tx *Tx) SettleFill(payer, payee, feeSink, asset string, amount, fee *uint256.Int) error {
	if tx.done {
		return ErrTxDone
	}
	if amount == nil || amount.IsZero() {
		return nil
	}
	if fee == nil {
		fee = new(uint256.Int)
	}
	if fee.Gt(amount) {
		return fmt.Errorf("%w: fee %s exceeds amount %s", ErrInvalidAmount, fee.Dec(), amount.Dec())
	}
	from := tx.balance(payer, asset)
	if from.Locked.Lt(amount) {
		return fmt.Errorf("%w: settle %s %s locked=%s want=%s", ErrInsufficientBalance, payer, asset, from.Locked.Dec(), amount.Dec())
	}
	from.Locked.Sub(&from.Locked, amount)

	net := new(uint256.Int).Sub(amount, fee)
	to := tx.balance(payee, asset)
	to.Available.Add(&to.Available, net)
	if !fee.IsZero() {
		sink := tx.balance(feeSink, asset)
		sink.Available.Add(&sink.Available, fee)
	}
	return nil
}

// Transfer available -> available（返佣等独立记账）
func (tx *Tx) Transfer(from, to, asset string, amount *uint256.Int) error {
	if tx.done {
		return ErrTxDone
	}
	if amount == nil || amount.IsZero() {
		return nil
	}
	src := tx.balance(from, asset)
	if src.Available.Lt(amount) {
		return fmt.Errorf("%w: transfer %s %s available=%s want=%s", ErrInsufficientBalance, from, asset, src.Available.Dec(), amount.Dec())
	}
	src.Available.Sub(&src.Available, amount)
	dst := tx.balance(to, asset)
	dst.Available.Add(&dst.Available, amount)
	return nil
}

// Balance 事务内读取（看得到未提交的修改）
func (tx *Tx) Balance(trader, asset string) (available, locked *uint256.Int) {
	b := tx.l.balances[Key{Trader: trader, Asset: asset}]
	if b == nil {
		return new(uint256.Int), new(uint256.Int)
	}
	return b.Available.Clone(), b.Locked.Clone()
}

// Commit 释放锁并返回本次触碰过的余额（按首次触碰顺序）
func (tx *Tx) Commit() []Change {
	if tx.done {
		return nil
	}
	tx.done = true
	changes := make([]Change, 0, len(tx.touched))
	for _, k := range tx.touched {
		b := tx.l.balances[k]
		orig := tx.orig[k]
		if orig != nil && orig.Available.Eq(&b.Available) && orig.Locked.Eq(&b.Locked) {
			continue
		}
		changes = append(changes, Change{Trader: k.Trader, Asset: k.Asset, Available: b.Available, Locked: b.Locked})
	}
	tx.l.mu.Unlock()
	return changes
}

// Rollback 恢复所有触碰过的余额；已提交时为 no-op，可以直接 defer
func (tx *Tx) Rollback() {
	if tx.done {
		return
	}
	tx.done = true
	for k, orig := range tx.orig {
		if orig == nil {
			delete(tx.l.balances, k)
			continue
		}
		*tx.l.balances[k] = *orig
	}
	for asset, orig := range tx.origCustody {
		if orig == nil {
			delete(tx.l.custody, asset)
			continue
		}
		*tx.l.custody[asset] = *orig
	}
	tx.l.mu.Unlock()
}
