package engine

import (
	"errors"
	"reflect"
	"testing"

	"github.com/holiman/uint256"

	"clobex.com/internal/fee"
	"clobex.com/internal/order"
)

func sampleCommand() Command {
	return Command{
		Type:     CmdSubmit,
		ReqID:    "req-77",
		ClientTs: 1_700_000_000_000_000_000,
		Market:   testMarket,
		Trader:   "alice",
		Side:     order.Buy,
		Kind:     order.Market,
		Amount:   units("1.5"),
		MaxQuote: new(uint256.Int).Lsh(uint256.NewInt(1), 200),
	}
}

func sampleSchedule() *fee.Schedule {
	return &fee.Schedule{
		Mode:       fee.ModeTiered,
		WindowSecs: 86400,
		RebateBps:  2,
		Tiers: []fee.Tier{
			{MinVolume: uint256.NewInt(0), MakerBps: 10, TakerBps: 20},
			{MinVolume: units("5000"), MakerBps: 0, TakerBps: 15},
		},
		MarketMakers: []string{"mm-1"},
	}
}

func TestCmdCodecs_RoundTrip(t *testing.T) {
	admin := Command{Type: CmdSetFeeSchedule, ReqID: "admin-1", ClientTs: 5, Market: testMarket, Schedule: sampleSchedule()}
	mm := Command{Type: CmdSetMarketMaker, ClientTs: 6, Market: testMarket, Address: "mm-1", Flag: true}
	fees := Command{Type: CmdSetFees, ClientTs: 7, Market: testMarket, MakerBps: 1000, TakerBps: 3}

	codecs := map[string]CmdCodec{"binary": BinaryCmdCodec{}, "json": JSONCmdCodec{Version: 1}}
	for name, codec := range codecs {
		for i, cmd := range []Command{sampleCommand(), admin, mm, fees} {
			payload, err := codec.Encode(nil, uint64(i+10), cmd)
			if err != nil {
				t.Fatalf("%s encode %d: %v", name, i, err)
			}
			seq, got, err := codec.Decode(payload)
			if err != nil {
				t.Fatalf("%s decode %d: %v", name, i, err)
			}
			if seq != uint64(i+10) {
				t.Fatalf("%s seq=%d", name, seq)
			}
			if !reflect.DeepEqual(got, cmd) {
				t.Fatalf("%s cmd %d:\n got %+v\nwant %+v", name, i, got, cmd)
			}
		}
	}
}

func TestBinaryCmdCodec_Rejects(t *testing.T) {
	payload, err := BinaryCmdCodec{}.Encode(nil, 1, sampleCommand())
	if err != nil {
		t.Fatal(err)
	}

	bad := append([]byte(nil), payload...)
	bad[0] = 9
	if _, _, err := (BinaryCmdCodec{}).Decode(bad); !errors.Is(err, ErrBadCmdVersion) {
		t.Fatalf("version: err=%v", err)
	}

	bad = append([]byte(nil), payload...)
	bad[1] = 0
	if _, _, err := (BinaryCmdCodec{}).Decode(bad); !errors.Is(err, ErrBadCmdType) {
		t.Fatalf("type: err=%v", err)
	}

	if _, _, err := (BinaryCmdCodec{}).Decode(payload[:len(payload)-3]); !errors.Is(err, ErrBadCmdRecordLen) {
		t.Fatalf("short: err=%v", err)
	}
	if _, _, err := (BinaryCmdCodec{}).Decode(append(payload, 0)); !errors.Is(err, ErrBadCmdRecordLen) {
		t.Fatalf("trailing: err=%v", err)
	}
}

func TestEvCodecs_RoundTrip(t *testing.T) {
	trade := Event{
		Type: EvTrade, Seq: 9, Idx: 3, ReqID: "req-4", Time: 123,
		Market: testMarket, MakerOrderID: 1, TakerOrderID: 2, Maker: "alice", Taker: "bob",
		Side: order.Sell, Status: order.Filled,
		Price: units("100"), Amount: units("2"), Quote: units("200"),
		MakerFee: units("0.002"), TakerFee: uint256.NewInt(0),
	}
	fees := Event{Type: EvFeesChanged, Seq: 10, Market: testMarket, Fees: sampleSchedule(), Recipient: "fee-sink"}
	balance := Event{Type: EvBalance, Seq: 11, Trader: "bob", Asset: "USDC", Available: units("200"), Locked: uint256.NewInt(0)}
	end := Event{Type: EvCmdEnd, Seq: 11}

	codecs := map[string]EvCodec{"binary": BinaryEvCodec{}, "json": JSONEvCodec{Version: 1}}
	for name, codec := range codecs {
		for _, ev := range []Event{trade, fees, balance, end} {
			payload, err := codec.Encode(nil, ev)
			if err != nil {
				t.Fatalf("%s encode %s: %v", name, ev.Type, err)
			}
			got, err := codec.Decode(payload)
			if err != nil {
				t.Fatalf("%s decode %s: %v", name, ev.Type, err)
			}
			if !reflect.DeepEqual(got, ev) {
				t.Fatalf("%s %s:\n got %+v\nwant %+v", name, ev.Type, got, ev)
			}
		}
	}
}

func TestCmdType_Strings(t *testing.T) {
	if CmdMatchBatch.String() != "match_batch" || CmdType(0).String() != "unknown" {
		t.Fatal("cmd names")
	}
	if EvCmdEnd.String() != "cmd_end" || EvRebate.String() != "rebate" || EventType(99).String() != "unknown" {
		t.Fatal("event names")
	}
}
