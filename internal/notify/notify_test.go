package notify_test

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"cdr.dev/slog/v3"
	"cdr.dev/slog/v3/sloggers/slogtest"

	"github.com/PratikDhanave/wheel-activity-tracker/internal/notify"
)

type recorder struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (r *recorder) Notify(_ context.Context, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
	return r.err
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

func TestMultiCombinesErrors(t *testing.T) {
	t.Parallel()

	ok := &recorder{}
	bad1 := &recorder{err: xerrors.New("boom")}
	bad2 := &recorder{err: xerrors.New("bang")}

	err := notify.Multi{bad1, ok, bad2}.Notify(context.Background(), "Hamster h1 inactive")
	require.Error(t, err)
	require.ErrorContains(t, err, "boom")
	require.ErrorContains(t, err, "bang")
	require.Equal(t, []string{"Hamster h1 inactive"}, ok.got())

	require.NoError(t, notify.Multi{ok}.Notify(context.Background(), "x"))
}

type blocking struct {
	release chan struct{}
	done    chan error
}

func (b *blocking) Notify(ctx context.Context, _ string) error {
	select {
	case <-b.release:
		b.done <- nil
		return nil
	case <-ctx.Done():
		b.done <- ctx.Err()
		return ctx.Err()
	}
}

func TestAsyncDoesNotBlockCaller(t *testing.T) {
	t.Parallel()

	next := &blocking{release: make(chan struct{}), done: make(chan error, 1)}
	a := notify.NewAsync(slogtest.Make(t, &slogtest.Options{IgnoreErrors: true}), next, time.Minute)

	require.NoError(t, a.Notify(context.Background(), "Sensor s1 inactive"))
	close(next.release)
	a.Wait()
	require.NoError(t, <-next.done)
}

func TestAsyncBoundsDelivery(t *testing.T) {
	t.Parallel()

	next := &blocking{release: make(chan struct{}), done: make(chan error, 1)}
	a := notify.NewAsync(slogtest.Make(t, &slogtest.Options{IgnoreErrors: true}), next, 10*time.Millisecond)

	// A cancelled caller context must not cut delivery short; only the timeout does.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, a.Notify(ctx, "Sensor s1 inactive"))
	a.Wait()
	require.ErrorIs(t, <-next.done, context.DeadlineExceeded)
}

func TestLogNotifier(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	n := notify.NewLog(slog.Make(sink))
	require.NoError(t, n.Notify(context.Background(), "Hamster h1 inactive"))
	require.Len(t, sink.entries, 1)
	require.Equal(t, slog.LevelWarn, sink.entries[0].Level)
}

type captureSink struct {
	entries []slog.SinkEntry
}

func (s *captureSink) LogEntry(_ context.Context, e slog.SinkEntry) {
	s.entries = append(s.entries, e)
}

func (*captureSink) Sync() {}

func TestNewSMTPValidates(t *testing.T) {
	t.Parallel()

	_, err := notify.NewSMTP(notify.SMTPConfig{From: "a@b", To: []string{"c@d"}})
	require.ErrorIs(t, err, notify.ErrNoSmarthost)
	_, err = notify.NewSMTP(notify.SMTPConfig{Smarthost: "localhost:25", To: []string{"c@d"}})
	require.ErrorIs(t, err, notify.ErrNoFromAddress)
	_, err = notify.NewSMTP(notify.SMTPConfig{Smarthost: "localhost:25", From: "a@b"})
	require.ErrorIs(t, err, notify.ErrNoToAddress)
}

type message struct {
	from string
	to   []string
	data string
}

type backend struct {
	mu   sync.Mutex
	last *message
}

func (b *backend) NewSession(*smtp.Conn) (smtp.Session, error) {
	return &session{backend: b, msg: &message{}}, nil
}

func (b *backend) lastMessage() *message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}

type session struct {
	backend *backend
	msg     *message
}

func (s *session) Mail(from string, _ *smtp.MailOptions) error {
	s.msg.from = from
	return nil
}

func (s *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	s.msg.to = append(s.msg.to, to)
	return nil
}

func (s *session) Data(r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.msg.data = string(b)
	s.backend.mu.Lock()
	s.backend.last = s.msg
	s.backend.mu.Unlock()
	return nil
}

func (s *session) Reset() {
	s.msg = &message{}
}

func (*session) Logout() error {
	return nil
}

func TestSMTPDelivers(t *testing.T) {
	t.Parallel()

	be := &backend{}
	srv := smtp.NewServer(be)
	srv.Domain = "localhost"
	srv.ReadTimeout = 5 * time.Second
	srv.WriteTimeout = 5 * time.Second

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = srv.Serve(l)
	}()
	t.Cleanup(func() {
		_ = srv.Close()
		wg.Wait()
	})

	n, err := notify.NewSMTP(notify.SMTPConfig{
		Smarthost: l.Addr().String(),
		From:      "tracker@example.com",
		To:        []string{"keeper@example.com", "vet@example.com"},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, n.Notify(ctx, "Hamster h1 inactive"))

	msg := be.lastMessage()
	require.NotNil(t, msg)
	require.Equal(t, "tracker@example.com", msg.from)
	require.Equal(t, []string{"keeper@example.com", "vet@example.com"}, msg.to)
	require.Contains(t, msg.data, "Subject: [wheel-tracker] Hamster h1 inactive")
	require.Contains(t, msg.data, "Message-Id: <")
}
