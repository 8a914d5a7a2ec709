package sim

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"stmadc/adc"
	"stmadc/core"
	"stmadc/protocol"
)

// block encodes one host command block.
func block(t *testing.T, seq uint8, vals ...uint32) []byte {
	t.Helper()
	out := protocol.NewScratchOutput()
	err := protocol.EncodeBlock(out, seq, func(o protocol.OutputBuffer) {
		for _, v := range vals {
			protocol.EncodeVLQUint(o, v)
		}
	})
	if err != nil {
		t.Fatalf("EncodeBlock: %v", err)
	}
	return append([]byte(nil), out.Result()...)
}

func readAll(t *testing.T, f *Firmware) []protocol.Block {
	t.Helper()
	f.mu.Lock()
	data := append([]byte(nil), f.pending...)
	f.pending = nil
	f.mu.Unlock()

	var blocks []protocol.Block
	for len(data) > 0 {
		blk, n, err := protocol.ParseBlock(data)
		if err != nil {
			t.Fatalf("ParseBlock: %v", err)
		}
		blocks = append(blocks, blk)
		data = data[n:]
	}
	return blocks
}

func TestFirmwareAck(t *testing.T) {
	f := New()
	// adc_setup on an unknown oid: status first, then the ack.
	if _, err := f.Write(block(t, protocol.SeqDest, uint32(core.CmdADCSetup), 0)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	blocks := readAll(t, f)
	if len(blocks) != 2 {
		t.Fatalf("Expected status and ack, got %d blocks", len(blocks))
	}
	want := []byte{byte(core.CmdADCStatus), 0, byte(core.CmdADCSetup), core.StatusUnknownOID}
	if !bytes.Equal(blocks[0].Payload, want) {
		t.Errorf("Expected status %v, got %v", want, blocks[0].Payload)
	}
	if len(blocks[1].Payload) != 0 || blocks[1].Seq != protocol.NextSeq(protocol.SeqDest) {
		t.Errorf("Expected an ack for 0x%02x, got %+v", protocol.NextSeq(protocol.SeqDest), blocks[1])
	}
}

func TestFirmwareStepTimer(t *testing.T) {
	f := New(WithSignal(func(adc.Selector, uint8, uint32) uint16 { return 77 }))
	in := &analogCapture{}
	dev, err := f.Registry().Initialize(adc.InstanceConfig{
		Instance: 3,
		Channels: []uint8{9},
		Timer:    &adc.TimerBinding{Timer: adc.TIM2, PCLK: 42000000, Freq: 1000, Trigger: adc.TriggerCC2},
		Receiver: in,
	})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := dev.Setup(); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	f.Step()
	if len(in.got) != 0 {
		t.Errorf("Expected no conversion while idle, got %v", in.got)
	}
	if err := dev.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.Step()
	f.Step()
	if len(in.got) != 2 || in.got[0] != (adc.Sample{Channel: 9, Value: 77}) {
		t.Errorf("Expected two conversions of channel 9, got %v", in.got)
	}
}

type analogCapture struct {
	got []adc.Sample
}

func (a *analogCapture) Receive(ch uint8, v uint16) {
	a.got = append(a.got, adc.Sample{Channel: ch, Value: v})
}
func (a *analogCapture) Flush() {}

func TestFirmwareClose(t *testing.T) {
	f := New()
	done := make(chan error, 1)
	go func() {
		_, err := f.Read(make([]byte, 8))
		done <- err
	}()
	f.Close()
	select {
	case err := <-done:
		if err != io.EOF {
			t.Errorf("Expected io.EOF, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected Close to unblock Read")
	}
	if _, err := f.Write([]byte{0x7E}); err != io.ErrClosedPipe {
		t.Errorf("Expected io.ErrClosedPipe, got %v", err)
	}
	if err := f.Run(context.Background(), time.Millisecond); err != nil {
		t.Errorf("Expected Run to return nil after Close, got %v", err)
	}
}
