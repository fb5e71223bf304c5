package transfer

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	wasmerrors "github.com/wippyai/wasm-interop/errors"
)

func TestChannel_SendRetrieve(t *testing.T) {
	var notified []int64
	ch := New(NotifierFunc(func(_ context.Context, id int64) error {
		notified = append(notified, id)
		return nil
	}))

	data := []byte{0, 1, 2, 254, 255}
	if err := ch.Send(context.Background(), 7, data); err != nil {
		t.Fatal(err)
	}
	if len(notified) != 1 || notified[0] != 7 {
		t.Fatalf("notified = %v", notified)
	}
	if id, ok := ch.Pending(); !ok || id != 7 {
		t.Fatalf("Pending = %d, %v", id, ok)
	}

	data[0] = 99 // caller mutation after send must not leak in
	got, err := ch.Retrieve()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{0, 1, 2, 254, 255}) {
		t.Fatalf("Retrieve = %v", got)
	}

	if _, err := ch.Retrieve(); !errors.Is(err, wasmerrors.ErrNoPendingPayload) {
		t.Fatalf("second Retrieve: got %v", err)
	}
}

func TestChannel_RetrieveInsideNotify(t *testing.T) {
	var ch *Channel
	var got []byte
	ch = New(NotifierFunc(func(context.Context, int64) error {
		var err error
		got, err = ch.Retrieve()
		return err
	}))

	if err := ch.Send(context.Background(), 1, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestChannel_Overwrite(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	ch := New(nil, WithLogger(zap.New(core)))

	_ = ch.Send(context.Background(), 1, []byte("first"))
	_ = ch.Send(context.Background(), 2, []byte("second"))

	if logs.FilterMessage("replacing unconsumed byte payload").Len() != 1 {
		t.Fatalf("expected overwrite warning, got %v", logs.All())
	}
	got, err := ch.Retrieve()
	if err != nil || string(got) != "second" {
		t.Fatalf("Retrieve = %q, %v", got, err)
	}
}

func TestChannel_MaxPayload(t *testing.T) {
	ch := New(nil, WithMaxPayload(4))

	err := ch.Send(context.Background(), 1, []byte("12345"))
	if !errors.Is(err, wasmerrors.ErrInvalidInput) {
		t.Fatalf("got %v, want InvalidInput", err)
	}
	if _, ok := ch.Pending(); ok {
		t.Fatal("rejected payload should not occupy the slot")
	}
	if err := ch.Send(context.Background(), 1, []byte("1234")); err != nil {
		t.Fatal(err)
	}
}

func TestChannel_NotifyError(t *testing.T) {
	boom := errors.New("guest down")
	ch := New(NotifierFunc(func(context.Context, int64) error { return boom }))

	if err := ch.Send(context.Background(), 3, []byte{1}); !errors.Is(err, boom) {
		t.Fatalf("got %v", err)
	}
}
