package notify

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMTPMailer_BuildsMessage(t *testing.T) {
	var (
		gotAddr string
		gotAuth smtp.Auth
		gotTo   []string
		gotMsg  string
	)
	m := NewSMTPMailer(SMTPConfig{Host: "mail.local", Port: 2525, Username: "lib", Password: "pw", From: "library@uni.edu"})
	m.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotAuth, gotTo, gotMsg = addr, a, to, string(msg)
		return nil
	}

	err := m.SendReminder(context.Background(), "ada@uni.edu", "Due soon\r\nBcc: x@evil", "line one\nline two")

	require.NoError(t, err)
	assert.Equal(t, "mail.local:2525", gotAddr)
	assert.NotNil(t, gotAuth)
	assert.Equal(t, []string{"ada@uni.edu"}, gotTo)
	assert.Contains(t, gotMsg, "Subject: Due soon  Bcc: x@evil\r\n")
	assert.NotContains(t, gotMsg, "\r\nBcc:")
	assert.True(t, strings.HasSuffix(gotMsg, "line one\r\nline two"))
}

func TestSMTPMailer_NoAuthWithoutUsername(t *testing.T) {
	m := NewSMTPMailer(SMTPConfig{Host: "mail.local", Port: 25, From: "library@uni.edu"})
	m.sendMail = func(_ string, a smtp.Auth, _ string, _ []string, _ []byte) error {
		assert.Nil(t, a)
		return errors.New("connection refused")
	}

	err := m.SendReminder(context.Background(), "ada@uni.edu", "s", "b")

	assert.ErrorContains(t, err, "smtp send")
}

func TestLogMailer_WritesToLog(t *testing.T) {
	var buf bytes.Buffer
	m := NewLogMailer(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, m.SendReminder(context.Background(), "ada@uni.edu", "Overdue", "Please return"))

	assert.Contains(t, buf.String(), `"to":"ada@uni.edu"`)
	assert.Contains(t, buf.String(), `"subject":"Overdue"`)
}

type flaky struct {
	failures int
	calls    int
}

func (f *flaky) SendReminder(context.Context, string, string, string) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("temporary failure")
	}
	return nil
}

func TestRetrying(t *testing.T) {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("succeeds after transient failures", func(t *testing.T) {
		next := &flaky{failures: 2}
		r := NewRetrying(next, 3, time.Millisecond, quiet)
		assert.NoError(t, r.SendReminder(context.Background(), "a@b.c", "s", "b"))
		assert.Equal(t, 3, next.calls)
	})

	t.Run("gives up after the last attempt", func(t *testing.T) {
		next := &flaky{failures: 10}
		r := NewRetrying(next, 3, time.Millisecond, quiet)
		err := r.SendReminder(context.Background(), "a@b.c", "s", "b")
		assert.ErrorContains(t, err, "after 3 attempts")
		assert.Equal(t, 3, next.calls)
	})

	t.Run("stops when the context is cancelled", func(t *testing.T) {
		next := &flaky{failures: 10}
		r := NewRetrying(next, 5, time.Hour, quiet)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := r.SendReminder(ctx, "a@b.c", "s", "b")
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, next.calls)
	})
}
