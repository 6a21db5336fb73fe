package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/docmcp-lab/gateway/internal/logging"
)

// State is a connection's lifecycle position. It only moves forward.
type State int32

const (
	StateIdle State = iota
	StateProcessSpawned
	StateBridging
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProcessSpawned:
		return "process_spawned"
	case StateBridging:
		return "bridging"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// closeCause records why a connection is being torn down and what the
// client is told. A zero code sends no close frame.
type closeCause struct {
	reason string
	code   int
	text   string
	err    error
	// fromWorker causes wait for the worker to exit before the close
	// frame is chosen, so the client learns how it exited.
	fromWorker bool
}

var (
	causeClientClosed = closeCause{reason: "client_closed"}
	causeTooLarge     = closeCause{reason: "message_too_large", code: websocket.CloseProtocolError, text: "message too large", err: ErrMessageTooLarge}
	causeMultiline    = closeCause{reason: "invalid_message", code: websocket.CloseProtocolError, text: "multi-line message is not JSON", err: ErrMultilineMessage}
	causeWorkerTooBig = closeCause{reason: "worker_message_too_large", code: websocket.CloseMessageTooBig, text: "worker message too large", err: ErrMessageTooLarge}
	causeShutdown     = closeCause{reason: "shutdown", code: websocket.CloseGoingAway, text: "server shutting down"}
	causeWorkerEnded  = closeCause{reason: "worker_exited", fromWorker: true}
)

type connection struct {
	id     string
	h      *Handler
	ws     *websocket.Conn
	fields []interface{}
	state  atomic.Int32

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *os.File
	stderr  *os.File
	exited  chan struct{}
	exitErr error

	once  sync.Once
	cause closeCause
	done  chan struct{}
}

func newConnection(h *Handler, ws *websocket.Conn, remote string) *connection {
	id := uuid.NewString()
	return &connection{
		id:     id,
		h:      h,
		ws:     ws,
		fields: logging.ConnectionFields(id, remote),
		done:   make(chan struct{}),
	}
}

func (c *connection) setState(s State) { c.state.Store(int32(s)) }

func (c *connection) State() State { return State(c.state.Load()) }

func (c *connection) closing() bool { return c.State() >= StateClosing }

func (c *connection) run(ctx context.Context, env []string) error {
	c.h.metrics.BridgeOpened()
	c.setState(StateIdle)

	if err := c.spawn(env); err != nil {
		logging.ErrorwCtx(ctx, "bridge: worker spawn failed", "err", err, "executable", c.h.executable)
		cause := closeCause{reason: "spawn_failed", code: websocket.CloseInternalServerErr, text: "worker unavailable", err: err}
		c.closeSocket(cause)
		c.setState(StateClosed)
		c.h.metrics.BridgeClosed(cause.reason)
		return fmt.Errorf("spawn worker: %w", err)
	}
	c.setState(StateProcessSpawned)
	logging.InfowCtx(ctx, "bridge: worker spawned", "pid", c.cmd.Process.Pid)

	c.setState(StateBridging)
	outDone := make(chan struct{})
	var g errgroup.Group
	g.Go(func() error { return c.pumpIn(ctx) })
	g.Go(func() error {
		defer close(outDone)
		return c.pumpOut(ctx)
	})
	g.Go(func() error {
		c.logStderr(ctx)
		return nil
	})
	g.Go(func() error {
		select {
		case <-ctx.Done():
			c.shutdown(causeShutdown)
		case <-c.exited:
			// Whatever the worker wrote before exiting still goes out.
			select {
			case <-outDone:
			case <-time.After(c.h.grace):
			}
			c.shutdown(causeWorkerEnded)
		case <-c.done:
		}
		return nil
	})
	_ = g.Wait()

	c.setState(StateClosed)
	c.h.metrics.BridgeClosed(c.cause.reason)
	fields := append([]interface{}{"reason", c.cause.reason}, "exit", exitString(c.exitErr))
	if c.cause.err != nil {
		logging.WarnwCtx(ctx, "bridge: connection closed", append(fields, "err", c.cause.err)...)
	} else {
		logging.InfowCtx(ctx, "bridge: connection closed", fields...)
	}
	return c.cause.err
}

// spawn starts the worker. Stdout and stderr use plain os pipes so that
// cmd.Wait never closes them under a pump that is still reading.
func (c *connection) spawn(env []string) error {
	cmd := exec.Command(c.h.executable, c.h.args...)
	cmd.Env = append(os.Environ(), env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		return err
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		_ = outR.Close()
		_ = outW.Close()
		return err
	}
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		_ = errors.Join(outR.Close(), outW.Close(), errR.Close(), errW.Close())
		return err
	}
	// The child holds its own copies now.
	_ = outW.Close()
	_ = errW.Close()

	c.cmd, c.stdin, c.stdout, c.stderr = cmd, stdin, outR, errR
	c.exited = make(chan struct{})
	go func() {
		c.exitErr = cmd.Wait()
		close(c.exited)
	}()
	return nil
}

// pumpIn relays socket messages to the worker's stdin, one line each.
func (c *connection) pumpIn(ctx context.Context) error {
	for {
		_, r, err := c.ws.NextReader()
		if err != nil {
			return c.socketReadFailed(err)
		}
		msg, err := io.ReadAll(io.LimitReader(r, MaxMessageSize+1))
		if err != nil {
			return c.socketReadFailed(err)
		}
		if len(msg) > MaxMessageSize {
			logging.WarnwCtx(ctx, "bridge: inbound message over limit", "limit", MaxMessageSize)
			c.shutdown(causeTooLarge)
			return ErrMessageTooLarge
		}
		line, err := frameLine(msg)
		if err != nil {
			logging.WarnwCtx(ctx, "bridge: inbound message spans lines", "bytes", len(msg))
			c.shutdown(causeMultiline)
			return err
		}
		if _, err := c.stdin.Write(line); err != nil {
			if c.closing() {
				return nil
			}
			// The worker closed stdin or exited; its exit status decides the close code.
			logging.DebugwCtx(ctx, "bridge: worker stdin closed", "err", err)
			c.shutdown(causeWorkerEnded)
			return nil
		}
		c.h.metrics.BridgeMessage("in")
	}
}

func (c *connection) socketReadFailed(err error) error {
	if c.closing() {
		return nil
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		c.shutdown(causeClientClosed)
		return nil
	}
	c.shutdown(closeCause{reason: "client_error", err: fmt.Errorf("read socket: %w", err)})
	return err
}

// frameLine terminates msg with a newline. A JSON message that spans lines
// is compacted first so it stays one line on the worker's stdin; any other
// message with a line break would split into several and is refused.
func frameLine(msg []byte) ([]byte, error) {
	if bytes.ContainsAny(msg, "\r\n") {
		var buf bytes.Buffer
		if err := json.Compact(&buf, msg); err != nil {
			return nil, ErrMultilineMessage
		}
		msg = buf.Bytes()
	}
	out := make([]byte, len(msg)+1)
	copy(out, msg)
	out[len(msg)] = '\n'
	return out, nil
}

// pumpOut relays each non-empty stdout line as one text message.
func (c *connection) pumpOut(ctx context.Context) error {
	sc := bufio.NewScanner(c.stdout)
	sc.Buffer(make([]byte, 0, 64*1024), MaxMessageSize+1)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := c.ws.WriteMessage(websocket.TextMessage, line); err != nil {
			if c.closing() {
				return nil
			}
			c.shutdown(closeCause{reason: "client_error", err: fmt.Errorf("write socket: %w", err)})
			return err
		}
		c.h.metrics.BridgeMessage("out")
	}
	err := sc.Err()
	switch {
	case c.closing():
		return nil
	case errors.Is(err, bufio.ErrTooLong):
		logging.WarnwCtx(ctx, "bridge: worker message over limit", "limit", MaxMessageSize)
		c.shutdown(causeWorkerTooBig)
		return ErrMessageTooLarge
	case err != nil:
		c.shutdown(closeCause{reason: "worker_exited", fromWorker: true, err: fmt.Errorf("read worker stdout: %w", err)})
		return err
	}
	c.shutdown(causeWorkerEnded)
	return nil
}

func (c *connection) logStderr(ctx context.Context) {
	sc := bufio.NewScanner(c.stderr)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		logging.InfowCtx(ctx, "bridge: worker stderr", "line", sc.Text())
	}
	if err := sc.Err(); err != nil && !c.closing() {
		logging.WarnwCtx(ctx, "bridge: worker stderr unreadable, discarding", "err", err)
		// Keep draining so the worker never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, c.stderr)
	}
}

// shutdown tears the connection down exactly once. Client-side causes
// close the socket first and then give the worker the grace period to
// exit on stdin EOF; worker-side causes wait for the exit first.
func (c *connection) shutdown(cause closeCause) {
	c.once.Do(func() {
		c.setState(StateClosing)
		if cause.fromWorker {
			_ = c.stdin.Close()
			c.awaitExit()
			cause = c.workerCause(cause)
			c.closeSocket(cause)
		} else {
			c.closeSocket(cause)
			_ = c.stdin.Close()
			// Nobody reads stdout any more; a worker blocked writing it
			// should fail rather than wait out the grace period.
			_ = c.stdout.Close()
			c.awaitExit()
		}
		// A grandchild may still hold the pipes open.
		_ = c.stdout.Close()
		_ = c.stderr.Close()
		c.cause = cause
		close(c.done)
	})
}

func (c *connection) awaitExit() {
	select {
	case <-c.exited:
		return
	case <-time.After(c.h.grace):
	}
	logging.Warnw("bridge: worker ignored shutdown, killing", append(c.fields, "grace", c.h.grace)...)
	_ = c.cmd.Process.Kill()
	<-c.exited
}

func (c *connection) workerCause(cause closeCause) closeCause {
	if cause.err == nil && c.exitErr == nil {
		cause.code = websocket.CloseNormalClosure
		cause.text = "worker exited"
		return cause
	}
	cause.reason = "worker_failed"
	cause.code = websocket.CloseInternalServerErr
	cause.text = "worker failed"
	if cause.err == nil {
		cause.err = fmt.Errorf("worker exited: %w", c.exitErr)
	}
	return cause
}

func (c *connection) closeSocket(cause closeCause) {
	if cause.code != 0 {
		msg := websocket.FormatCloseMessage(cause.code, cause.text)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteWait))
	}
	_ = c.ws.Close()
}

func exitString(err error) string {
	if err == nil {
		return "ok"
	}
	return err.Error()
}
