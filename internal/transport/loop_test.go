// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Thermoquad/dpsctl/pkg/dps150"
)

// pipeStream reads from an io.Pipe and records every write
type pipeStream struct {
	*io.PipeReader

	mu       sync.Mutex
	writes   [][]byte
	times    []time.Time
	ends     []time.Time
	short    bool
	writeErr error
	delay    time.Duration
}

func newPipeStream() (*pipeStream, *io.PipeWriter) {
	pr, pw := io.Pipe()
	return &pipeStream{PipeReader: pr}, pw
}

func (s *pipeStream) Write(p []byte) (int, error) {
	started := time.Now()
	time.Sleep(s.delay)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	s.writes = append(s.writes, append([]byte(nil), p...))
	s.times = append(s.times, started)
	s.ends = append(s.ends, time.Now())
	if s.short {
		return len(p) - 1, nil
	}
	return len(p), nil
}

func (s *pipeStream) recorded() ([][]byte, []time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes, s.times
}

func (s *pipeStream) finished() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ends
}

func inbound(fieldID uint8, payload []byte) []byte {
	return dps150.Encode(dps150.DirIn, dps150.CmdGet, fieldID, payload)
}

func startLoop(t *testing.T, l *Loop) <-chan error {
	t.Helper()
	result := make(chan error, 1)
	go func() { result <- l.Run(context.Background()) }()
	return result
}

func waitRun(t *testing.T, result <-chan error) error {
	t.Helper()
	select {
	case err := <-result:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func collect(l *Loop) func() []Event {
	ch := make(chan Event, 64)
	l.Subscribe(func(ev Event) { ch <- ev })
	return func() []Event {
		var out []Event
		for {
			select {
			case ev := <-ch:
				out = append(out, ev)
			default:
				return out
			}
		}
	}
}

func TestLoop_DeliversUpdatesInOrder(t *testing.T) {
	stream, pw := newPipeStream()
	l := New(stream, WithLogger(zaptest.NewLogger(t)))
	drain := collect(l)
	result := startLoop(t, l)

	_, err := pw.Write(inbound(dps150.FieldIDVoltageSet, dps150.PutFloat(12.5)))
	require.NoError(t, err)
	_, err = pw.Write(inbound(dps150.FieldIDCurrentSet, dps150.PutFloat(1.25)))
	require.NoError(t, err)
	_, err = pw.Write(inbound(dps150.FieldIDOutputEnable, []byte{1}))
	require.NoError(t, err)
	require.NoError(t, pw.Close())

	require.NoError(t, waitRun(t, result))

	events := drain()
	require.Len(t, events, 4)

	v, ok := events[0].Update.Float(dps150.FieldSetVoltage)
	require.True(t, ok)
	assert.Equal(t, float32(12.5), v)

	c, ok := events[1].Update.Float(dps150.FieldSetCurrent)
	require.True(t, ok)
	assert.Equal(t, float32(1.25), c)

	closed, ok := events[2].Update.Bool(dps150.FieldOutputClosed)
	require.True(t, ok)
	assert.True(t, closed)

	assert.True(t, events[3].Disconnected)
	assert.NoError(t, events[3].Err)

	stats := l.Stats()
	assert.Equal(t, uint64(3), stats.ValidFrames)
}

func TestLoop_FrameSplitAcrossReads(t *testing.T) {
	stream, pw := newPipeStream()
	l := New(stream, WithLogger(zaptest.NewLogger(t)))
	drain := collect(l)
	result := startLoop(t, l)

	frame := inbound(dps150.FieldIDTemperature, dps150.PutFloat(31.5))
	for _, b := range frame {
		_, err := pw.Write([]byte{b})
		require.NoError(t, err)
	}
	require.NoError(t, pw.Close())
	require.NoError(t, waitRun(t, result))

	events := drain()
	require.Len(t, events, 2)
	temp, ok := events[0].Update.Float(dps150.FieldTemperature)
	require.True(t, ok)
	assert.Equal(t, float32(31.5), temp)
}

func TestLoop_ReadErrorDisconnects(t *testing.T) {
	stream, pw := newPipeStream()
	l := New(stream, WithLogger(zaptest.NewLogger(t)))
	drain := collect(l)
	result := startLoop(t, l)

	usbGone := errors.New("usb device removed")
	require.NoError(t, pw.CloseWithError(usbGone))

	err := waitRun(t, result)
	require.Error(t, err)
	assert.ErrorIs(t, err, usbGone)

	events := drain()
	require.Len(t, events, 1)
	assert.True(t, events[0].Disconnected)
	assert.ErrorIs(t, events[0].Err, usbGone)
}

func TestLoop_SkipsCorruptAndUnknownFrames(t *testing.T) {
	stream, pw := newPipeStream()
	l := New(stream, WithLogger(zaptest.NewLogger(t)))
	drain := collect(l)
	result := startLoop(t, l)

	corrupt := inbound(dps150.FieldIDVoltageSet, dps150.PutFloat(5))
	corrupt[len(corrupt)-1] ^= 0xFF

	var data []byte
	data = append(data, 0x00, 0x13, 0x37)
	data = append(data, corrupt...)
	data = append(data, inbound(dps150.FieldIDReserved225, []byte{0x01})...)
	data = append(data, inbound(dps150.FieldIDInputVoltage, dps150.PutFloat(19.9))...)
	_, err := pw.Write(data)
	require.NoError(t, err)
	require.NoError(t, pw.Close())
	require.NoError(t, waitRun(t, result))

	events := drain()
	require.Len(t, events, 3)

	var unknown *dps150.UnknownFieldError
	assert.ErrorAs(t, events[0].Err, &unknown)
	assert.Nil(t, events[0].Update)

	in, ok := events[1].Update.Float(dps150.FieldInputVoltage)
	require.True(t, ok)
	assert.Equal(t, float32(19.9), in)
	assert.True(t, events[2].Disconnected)

	stats := l.Stats()
	assert.Equal(t, uint64(1), stats.ChecksumErrors)
	assert.Equal(t, uint64(1), stats.UnknownFields)
	assert.Equal(t, uint64(1), stats.ValidFrames)
	assert.Equal(t, uint64(len(data)), stats.BytesReceived)
}

func TestLoop_SlowSubscriberDoesNotStallReader(t *testing.T) {
	stream, pw := newPipeStream()
	l := New(stream, WithLogger(zaptest.NewLogger(t)), WithQueueDepth(1))

	release := make(chan struct{})
	var mu sync.Mutex
	var delivered int
	l.Subscribe(func(ev Event) {
		<-release
		mu.Lock()
		delivered++
		mu.Unlock()
	})
	result := startLoop(t, l)

	// Pipe writes only return once the reader has taken the bytes, so these
	// complete only if decoding keeps going while the subscriber is blocked.
	frame := inbound(dps150.FieldIDTemperature, dps150.PutFloat(25))
	for range 20 {
		_, err := pw.Write(frame)
		require.NoError(t, err)
	}

	assert.Eventually(t, func() bool { return l.Stats().DroppedEvents > 0 },
		time.Second, 5*time.Millisecond)

	close(release)
	require.NoError(t, pw.Close())
	require.NoError(t, waitRun(t, result))

	stats := l.Stats()
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, uint64(20), stats.ValidFrames)
	assert.Equal(t, 20-int(stats.DroppedEvents)+1, delivered)
}

func TestLoop_ResubscribeReplaces(t *testing.T) {
	stream, pw := newPipeStream()
	l := New(stream, WithLogger(zaptest.NewLogger(t)))

	var first int
	l.Subscribe(func(Event) { first++ })
	drain := collect(l)
	result := startLoop(t, l)

	_, err := pw.Write(inbound(dps150.FieldIDBrightness, []byte{7}))
	require.NoError(t, err)
	require.NoError(t, pw.Close())
	require.NoError(t, waitRun(t, result))

	assert.Equal(t, 0, first)
	assert.Len(t, drain(), 2)
}

func TestLoop_CancelClosesStream(t *testing.T) {
	stream, _ := newPipeStream()
	l := New(stream, WithLogger(zaptest.NewLogger(t)))
	drain := collect(l)

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- l.Run(ctx) }()

	cancel()
	require.NoError(t, waitRun(t, result))

	events := drain()
	require.Len(t, events, 1)
	assert.True(t, events[0].Disconnected)
	assert.ErrorIs(t, l.Write(context.Background(), dps150.NewGetCommand(dps150.FieldIDAll)), ErrLoopClosed)
	assert.ErrorIs(t, l.Run(context.Background()), ErrLoopClosed)
}

func TestLoop_WriteSpacing(t *testing.T) {
	const spacing = 30 * time.Millisecond
	stream, _ := newPipeStream()
	l := New(stream, WithLogger(zaptest.NewLogger(t)), WithWriteSpacing(spacing))

	frames := [][]byte{
		dps150.NewSessionCommand(dps150.SessionOpen),
		dps150.NewBaudCommand(dps150.BaudIndex(115200)),
		dps150.NewGetCommand(dps150.FieldIDAll),
	}

	start := time.Now()
	for _, f := range frames {
		require.NoError(t, l.Write(context.Background(), f))
	}

	writes, times := stream.recorded()
	require.Equal(t, frames, writes)
	assert.GreaterOrEqual(t, times[2].Sub(start), 2*spacing)
	for i := 1; i < len(times); i++ {
		assert.GreaterOrEqual(t, times[i].Sub(times[i-1]), spacing-5*time.Millisecond)
	}
}

func TestLoop_WriteSpacingCountsFromWriteEnd(t *testing.T) {
	const spacing = 50 * time.Millisecond
	stream, _ := newPipeStream()
	stream.delay = 40 * time.Millisecond
	l := New(stream, WithLogger(zaptest.NewLogger(t)), WithWriteSpacing(spacing))

	for range 3 {
		require.NoError(t, l.Write(context.Background(), dps150.NewGetCommand(dps150.FieldIDAll)))
	}

	_, starts := stream.recorded()
	ends := stream.finished()
	require.Len(t, starts, 3)
	for i := 1; i < len(starts); i++ {
		assert.GreaterOrEqual(t, starts[i].Sub(ends[i-1]), spacing-time.Millisecond,
			"write %d started too soon after the previous one finished", i)
	}
}

func TestLoop_ConcurrentWritersAreSerialized(t *testing.T) {
	stream, _ := newPipeStream()
	l := New(stream, WithWriteSpacing(time.Millisecond))

	var wg sync.WaitGroup
	for i := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 5 {
				assert.NoError(t, l.Write(context.Background(), dps150.NewSetByteCommand(dps150.FieldIDVolume, uint8(i))))
			}
		}()
	}
	wg.Wait()

	writes, _ := stream.recorded()
	require.Len(t, writes, 20)
	for _, w := range writes {
		assert.Len(t, w, 6)
	}
}

func TestLoop_WriteHonoursContext(t *testing.T) {
	stream, _ := newPipeStream()
	l := New(stream, WithWriteSpacing(time.Hour))

	require.NoError(t, l.Write(context.Background(), dps150.NewGetCommand(dps150.FieldIDAll)))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Write(ctx, dps150.NewGetCommand(dps150.FieldIDAll)))

	writes, _ := stream.recorded()
	assert.Len(t, writes, 1)
}

func TestLoop_ShortWriteIsError(t *testing.T) {
	stream, _ := newPipeStream()
	stream.short = true
	l := New(stream, WithWriteSpacing(0))

	err := l.Write(context.Background(), dps150.NewSetFloatCommand(dps150.FieldIDVoltageSet, 5))
	assert.ErrorIs(t, err, io.ErrShortWrite)
}

func TestLoop_WriteErrorPropagates(t *testing.T) {
	stream, _ := newPipeStream()
	stream.writeErr = errors.New("port busy")
	l := New(stream, WithWriteSpacing(0))

	err := l.Write(context.Background(), dps150.NewSetByteCommand(dps150.FieldIDOutputEnable, 1))
	assert.ErrorIs(t, err, stream.writeErr)
}

func TestLoop_WriteFailureEndsSession(t *testing.T) {
	stream, pw := newPipeStream()
	l := New(stream, WithLogger(zaptest.NewLogger(t)), WithWriteSpacing(0))
	drain := collect(l)
	result := startLoop(t, l)

	// Run is reading once the pipe write returns
	_, err := pw.Write(inbound(dps150.FieldIDVoltageSet, dps150.PutFloat(5)))
	require.NoError(t, err)

	stream.mu.Lock()
	stream.writeErr = errors.New("usb unplugged")
	stream.mu.Unlock()

	err = l.Write(context.Background(), dps150.NewSetByteCommand(dps150.FieldIDOutputEnable, 1))
	require.ErrorIs(t, err, stream.writeErr)

	runErr := waitRun(t, result)
	require.ErrorIs(t, runErr, stream.writeErr)

	events := drain()
	require.Len(t, events, 2)
	assert.NotNil(t, events[0].Update)
	assert.True(t, events[1].Disconnected)
	assert.ErrorIs(t, events[1].Err, stream.writeErr)

	assert.ErrorIs(t, l.Write(context.Background(), dps150.NewGetCommand(dps150.FieldIDAll)), ErrLoopClosed)
}
