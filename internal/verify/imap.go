package verify

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-imap/client"

	"gmailfarm-bot/internal/metrics"
)

const defaultTimeout = 10 * time.Second

// IMAPChecker logs in over IMAP and logs out again. Network faults and
// timeouts are transient; a refused LOGIN is an auth failure.
type IMAPChecker struct {
	Addr    string
	Timeout time.Duration
	TLS     bool
	Logger  *slog.Logger
}

func NewIMAPChecker(addr string, timeout time.Duration, log *slog.Logger) *IMAPChecker {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &IMAPChecker{Addr: addr, Timeout: timeout, TLS: true, Logger: log}
}

func (c *IMAPChecker) Check(ctx context.Context, address, password string) Result {
	start := time.Now()
	res := c.check(ctx, address, password)
	metrics.VerificationDuration.Observe(time.Since(start).Seconds())
	if c.Logger != nil {
		c.Logger.Info("imap check finished",
			slog.String("address", address),
			slog.String("outcome", res.Outcome.String()),
			slog.Duration("elapsed", time.Since(start)),
		)
	}
	return res
}

func (c *IMAPChecker) check(ctx context.Context, address, password string) Result {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	deadline, _ := ctx.Deadline()
	dialer := &net.Dialer{Timeout: timeout, Deadline: deadline}

	var (
		cl  *client.Client
		err error
	)
	if c.TLS {
		host, _, _ := net.SplitHostPort(c.Addr)
		cl, err = client.DialWithDialerTLS(dialer, c.Addr, &tls.Config{ServerName: host})
	} else {
		cl, err = client.DialWithDialer(dialer, c.Addr)
	}
	if err != nil {
		return Result{Outcome: TransientError, Reason: "mail server unreachable: " + err.Error()}
	}
	cl.Timeout = timeout

	// Abort a stuck exchange when the caller gives up.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = cl.Terminate()
		case <-done:
		}
	}()

	if err := cl.Login(address, password); err != nil {
		_ = cl.Terminate()
		if ctx.Err() != nil || isNetworkErr(err) {
			return Result{Outcome: TransientError, Reason: "mail server did not answer: " + err.Error()}
		}
		return Result{Outcome: AuthFailure, Reason: err.Error()}
	}
	_ = cl.Logout()
	return Result{Outcome: Success}
}

func isNetworkErr(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection closed") || strings.Contains(msg, "timeout")
}
