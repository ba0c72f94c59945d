package bthid

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hidlink/internal/hidcodes"
)

const testPeerAddr = "AA:BB:CC:DD:EE:FF"

// pipeListener hands out pre-injected in-memory connections in place of
// L2CAP accepts.
type pipeListener struct {
	conns chan io.ReadWriteCloser
	done  chan struct{}
	once  sync.Once
}

func newPipeListener() *pipeListener {
	return &pipeListener{
		conns: make(chan io.ReadWriteCloser, 1),
		done:  make(chan struct{}),
	}
}

func (l *pipeListener) Accept() (io.ReadWriteCloser, string, error) {
	select {
	case c := <-l.conns:
		return c, testPeerAddr, nil
	case <-l.done:
		return nil, "", errors.New("listener closed")
	}
}

func (l *pipeListener) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}

// testHost is a fake Bluetooth host holding the remote ends of both
// channels.
type testHost struct {
	srv  *Server
	ctrl net.Conn
	intr net.Conn
}

func pipeTransport(ctrlLn, intrLn *pipeListener) ListenFunc {
	return func(psm uint16) (Listener, error) {
		switch psm {
		case PSMControl:
			return ctrlLn, nil
		case PSMInterrupt:
			return intrLn, nil
		}
		return nil, fmt.Errorf("unexpected PSM 0x%02X", psm)
	}
}

func newTestServer(t *testing.T, ctrlLn, intrLn *pipeListener) *Server {
	t.Helper()
	srv := NewServer(Config{
		KeypressDelay:  time.Millisecond,
		InterCharDelay: time.Millisecond,
		Listen:         pipeTransport(ctrlLn, intrLn),
	})
	t.Cleanup(func() { srv.Stop() })
	return srv
}

func connectTestHost(t *testing.T) *testHost {
	t.Helper()
	ctrlLn := newPipeListener()
	intrLn := newPipeListener()
	srv := newTestServer(t, ctrlLn, intrLn)
	require.NoError(t, srv.Start())

	ctrlSrv, ctrlHost := net.Pipe()
	intrSrv, intrHost := net.Pipe()
	ctrlLn.conns <- ctrlSrv
	intrLn.conns <- intrSrv

	addr, err := srv.WaitForConnection(context.Background())
	require.NoError(t, err)
	require.Equal(t, testPeerAddr, addr)
	require.True(t, srv.IsConnected())

	t.Cleanup(func() {
		ctrlHost.Close()
		intrHost.Close()
	})
	return &testHost{srv: srv, ctrl: ctrlHost, intr: intrHost}
}

// readFrame reads one report frame from the host side of a channel.
// net.Pipe preserves write boundaries, so each read is one frame.
func readFrame(t *testing.T, c net.Conn) []byte {
	t.Helper()
	buf := make([]byte, 64)
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err := c.Read(buf)
	require.NoError(t, err)
	return append([]byte(nil), buf[:n]...)
}

func TestStartTwice(t *testing.T) {
	srv := newTestServer(t, newPipeListener(), newPipeListener())
	require.NoError(t, srv.Start())
	assert.ErrorIs(t, srv.Start(), ErrAlreadyStarted)
}

func TestWaitForConnectionBeforeStart(t *testing.T) {
	srv := newTestServer(t, newPipeListener(), newPipeListener())
	_, err := srv.WaitForConnection(context.Background())
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestStopIdempotent(t *testing.T) {
	srv := newTestServer(t, newPipeListener(), newPipeListener())
	// Stop before Start.
	require.NoError(t, srv.Stop())
	// And twice in a row.
	require.NoError(t, srv.Stop())
}

func TestStopWhileConnected(t *testing.T) {
	h := connectTestHost(t)
	require.NoError(t, h.srv.Stop())
	require.NoError(t, h.srv.Stop())
	assert.False(t, h.srv.IsConnected())
	assert.ErrorIs(t, h.srv.SendKeystroke("a"), ErrNotConnected)
}

func TestWaitForConnectionCancel(t *testing.T) {
	srv := newTestServer(t, newPipeListener(), newPipeListener())
	require.NoError(t, srv.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := srv.WaitForConnection(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, srv.IsConnected())
}

func TestSendKeystrokeEnter(t *testing.T) {
	h := connectTestHost(t)

	errCh := make(chan error, 1)
	go func() { errCh <- h.srv.SendKeystroke("Enter") }()

	press := readFrame(t, h.intr)
	assert.Equal(t, []byte{0xA1, 0x01, 0x00, 0x00, 0x28, 0x00, 0x00, 0x00, 0x00, 0x00}, press)

	release := readFrame(t, h.intr)
	assert.Equal(t, []byte{0xA1, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}, release)

	require.NoError(t, <-errCh)
}

func TestSendKeystrokeUnknownKey(t *testing.T) {
	h := connectTestHost(t)
	err := h.srv.SendKeystroke("NoSuchKey")
	assert.ErrorIs(t, err, hidcodes.ErrUnknownKey)
}

func TestSendKeyCombo(t *testing.T) {
	h := connectTestHost(t)

	errCh := make(chan error, 1)
	go func() { errCh <- h.srv.SendKeyCombo([]string{"ctrl"}, "c") }()

	press := readFrame(t, h.intr)
	assert.Equal(t, []byte{0xA1, 0x01, hidcodes.ModLeftCtrl, 0x00, 0x06, 0x00, 0x00, 0x00, 0x00, 0x00}, press)
	readFrame(t, h.intr) // release

	require.NoError(t, <-errCh)

	// Shifted key folds LeftShift into the modifier mask.
	go func() { errCh <- h.srv.SendKeyCombo([]string{"alt"}, "!") }()
	press = readFrame(t, h.intr)
	assert.Equal(t, hidcodes.ModLeftAlt|hidcodes.ModLeftShift, press[2])
	assert.Equal(t, byte(0x1E), press[4]) // scan code of '1'
	readFrame(t, h.intr)
	require.NoError(t, <-errCh)
}

func TestSendTextEndToEnd(t *testing.T) {
	h := connectTestHost(t)

	errCh := make(chan error, 1)
	go func() { errCh <- h.srv.SendText("hi") }()

	frames := make([][]byte, 4)
	for i := range frames {
		frames[i] = readFrame(t, h.intr)
	}
	require.NoError(t, <-errCh)

	// press 'h', release, press 'i', release
	assert.Equal(t, byte(0x0B), frames[0][4])
	assert.Equal(t, byte(0x00), frames[0][2], "no modifier for 'h'")
	assert.Equal(t, []byte{0xA1, 0x01, 0, 0, 0, 0, 0, 0, 0, 0}, frames[1])
	assert.Equal(t, byte(0x0C), frames[2][4])
	assert.Equal(t, byte(0x00), frames[2][2], "no modifier for 'i'")
	assert.Equal(t, []byte{0xA1, 0x01, 0, 0, 0, 0, 0, 0, 0, 0}, frames[3])
}

func TestMoveClampsDeltas(t *testing.T) {
	h := connectTestHost(t)

	errCh := make(chan error, 1)
	go func() { errCh <- h.srv.Move(200, -200) }()

	frame := readFrame(t, h.intr)
	require.NoError(t, <-errCh)
	assert.Equal(t, []byte{0xA1, 0x02, 0x00, 0x7F, 0x81, 0x00}, frame)
}

func TestClick(t *testing.T) {
	h := connectTestHost(t)

	errCh := make(chan error, 1)
	go func() { errCh <- h.srv.Click("left") }()

	press := readFrame(t, h.intr)
	assert.Equal(t, []byte{0xA1, 0x02, 0x01, 0x00, 0x00, 0x00}, press)
	release := readFrame(t, h.intr)
	assert.Equal(t, []byte{0xA1, 0x02, 0x00, 0x00, 0x00, 0x00}, release)
	require.NoError(t, <-errCh)
}

func TestClickUnknownButton(t *testing.T) {
	h := connectTestHost(t)

	err := h.srv.Click("banana")
	assert.ErrorIs(t, err, hidcodes.ErrUnknownButton)

	// No report was emitted: a subsequent scroll is the next frame seen.
	errCh := make(chan error, 1)
	go func() { errCh <- h.srv.Scroll(-3) }()
	frame := readFrame(t, h.intr)
	require.NoError(t, <-errCh)
	assert.Equal(t, []byte{0xA1, 0x02, 0x00, 0x00, 0x00, 0xFD}, frame)
}

func TestControlChannelSetProtocol(t *testing.T) {
	h := connectTestHost(t)

	// SET_PROTOCOL(Report) must produce exactly one success byte before
	// any further control traffic is handled.
	_, err := h.ctrl.Write([]byte{0x71})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00}, readFrame(t, h.ctrl))

	// GET_PROTOCOL answers Report protocol.
	_, err = h.ctrl.Write([]byte{0x60})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, readFrame(t, h.ctrl))

	// SET_REPORT is acknowledged.
	_, err = h.ctrl.Write([]byte{0x52, 0x01, 0x00})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00}, readFrame(t, h.ctrl))
}

func TestControlChannelSurvivesUnknownMessages(t *testing.T) {
	h := connectTestHost(t)

	// Unrecognized type: no reply, loop keeps running.
	_, err := h.ctrl.Write([]byte{0xE3, 0xFF, 0xFF})
	require.NoError(t, err)
	// HID_CONTROL: logged, no reply.
	_, err = h.ctrl.Write([]byte{0x13})
	require.NoError(t, err)

	// The next SET_PROTOCOL still gets its single success byte.
	_, err = h.ctrl.Write([]byte{0x70})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00}, readFrame(t, h.ctrl))
}

func TestPeerClosingControlChannelDisconnects(t *testing.T) {
	h := connectTestHost(t)

	require.NoError(t, h.ctrl.Close())

	select {
	case <-h.srv.Disconnected():
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect not observed after control channel close")
	}
	assert.False(t, h.srv.IsConnected())
	assert.ErrorIs(t, h.srv.SendKeystroke("a"), ErrNotConnected)
}

func TestInterruptWriteFailureMarksDisconnected(t *testing.T) {
	h := connectTestHost(t)

	require.NoError(t, h.intr.Close())

	err := h.srv.SendKeystroke("a")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotConnected, "first failure surfaces the transport error")

	// The connection is now dead; further sends fail fast.
	assert.ErrorIs(t, h.srv.SendKeystroke("a"), ErrNotConnected)
	assert.False(t, h.srv.IsConnected())
}

func TestReconnectAfterPeerLoss(t *testing.T) {
	ctrlLn := newPipeListener()
	intrLn := newPipeListener()
	srv := newTestServer(t, ctrlLn, intrLn)
	require.NoError(t, srv.Start())

	ctrlSrv, ctrlHost := net.Pipe()
	intrSrv, intrHost := net.Pipe()
	ctrlLn.conns <- ctrlSrv
	intrLn.conns <- intrSrv
	_, err := srv.WaitForConnection(context.Background())
	require.NoError(t, err)

	// Peer goes away.
	ctrlHost.Close()
	intrHost.Close()
	<-srv.Disconnected()

	// A second host can connect; button state starts clean.
	ctrlSrv2, ctrlHost2 := net.Pipe()
	intrSrv2, intrHost2 := net.Pipe()
	ctrlLn.conns <- ctrlSrv2
	intrLn.conns <- intrSrv2
	defer ctrlHost2.Close()
	defer intrHost2.Close()

	addr, err := srv.WaitForConnection(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testPeerAddr, addr)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Move(1, 1) }()
	frame := readFrame(t, intrHost2)
	require.NoError(t, <-errCh)
	assert.Equal(t, byte(0x00), frame[2], "mouse buttons reset on reconnect")
}

func TestWaitForConnectionWhileConnected(t *testing.T) {
	h := connectTestHost(t)
	_, err := h.srv.WaitForConnection(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyConnected)
}
