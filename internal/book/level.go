package book

import (
	"github.com/holiman/uint256"

	"clobex.com/internal/order"
)

type priceLevel struct {
	price uint256.Int // 价格
	head  *lvNode     // 头部指针
	tail  *lvNode     // 尾部指针
	size  int         // 桶里的订单数
}

// 双向链表节点，只存订单 id
type lvNode struct {
	prev *lvNode
	next *lvNode
	id   uint64
	lv   *priceLevel // 所属的价格桶
	side order.Side
}

// 同价位追加到队尾 => 天然满足 FIFO
func (l *priceLevel) pushBack(n *lvNode) {
	n.prev, n.next = l.tail, nil
	if l.tail != nil {
		l.tail.next = n
	} else {
		l.head = n
	}
	l.tail = n
	l.size++
}

// 插到队头，只在回滚时把刚弹出的订单放回原位
func (l *priceLevel) pushFront(n *lvNode) {
	n.prev, n.next = nil, l.head
	if l.head != nil {
		l.head.prev = n
	} else {
		l.tail = n
	}
	l.head = n
	l.size++
}

func (l *priceLevel) remove(n *lvNode) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		l.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		l.tail = n.prev
	}
	// 断开节点指针，避免误用
	n.prev, n.next = nil, nil
	l.size--
}

func (l *priceLevel) empty() bool {
	return l.size == 0
}
