package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go"
	"github.com/ruteri/identity-custody-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatcherRunsAndWaits(t *testing.T) {
	d := NewDispatcher(4, time.Second, testLogger())

	var ran atomic.Int32
	for i := 0; i < 4; i++ {
		ok := d.Dispatch("test", func(ctx context.Context) error {
			ran.Inc()
			return nil
		})
		assert.True(t, ok)
	}

	require.NoError(t, d.Close(context.Background()))
	assert.Equal(t, int32(4), ran.Load())

	// Closed dispatcher drops
	assert.False(t, d.Dispatch("test", func(ctx context.Context) error { return nil }))
}

func TestDispatcherDropsWhenSaturated(t *testing.T) {
	d := NewDispatcher(1, time.Second, testLogger())

	release := make(chan struct{})
	started := make(chan struct{})
	require.True(t, d.Dispatch("slow", func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started

	assert.False(t, d.Dispatch("second", func(ctx context.Context) error { return nil }))

	close(release)
	require.NoError(t, d.Close(context.Background()))
}

func TestDispatcherFreesSlotAfterFailure(t *testing.T) {
	d := NewDispatcher(1, time.Second, testLogger())

	failed := make(chan struct{})
	require.True(t, d.Dispatch("failing", func(ctx context.Context) error {
		defer close(failed)
		return errors.New("downstream unavailable")
	}))
	<-failed

	ran := make(chan struct{})
	require.Eventually(t, func() bool {
		return d.Dispatch("next", func(ctx context.Context) error {
			close(ran)
			return nil
		})
	}, time.Second, 5*time.Millisecond)
	<-ran
	require.NoError(t, d.Close(context.Background()))
}

func TestDispatcherTaskTimeout(t *testing.T) {
	d := NewDispatcher(1, 20*time.Millisecond, testLogger())

	errCh := make(chan error, 1)
	d.Dispatch("hang", func(ctx context.Context) error {
		<-ctx.Done()
		errCh <- ctx.Err()
		return ctx.Err()
	})

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("task was not cancelled")
	}
	require.NoError(t, d.Close(context.Background()))
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []*nats.Msg
	err  error
}

func (f *fakePublisher) PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.msgs = append(f.msgs, m)
	return &nats.PubAck{Stream: "JOBS", Sequence: uint64(len(f.msgs))}, nil
}

func TestNATSQueue(t *testing.T) {
	pub := &fakePublisher{}
	q := NewNATSQueue(pub, NATSConfig{FundingSubject: "jobs.funding", RoleGrantSubject: "jobs.role-grant"}, testLogger())
	ctx := context.Background()

	require.NoError(t, q.EnqueueFunding(ctx, "p-1", "0xabc"))
	require.NoError(t, q.EnqueueRoleGrant(ctx, interfaces.Membership{PrincipalID: "p-1", OrganizationID: "org-1", Role: "admin"}, "0xabc"))

	require.Len(t, pub.msgs, 2)

	assert.Equal(t, "jobs.funding", pub.msgs[0].Subject)
	assert.Equal(t, "funding:0xabc", pub.msgs[0].Header.Get(nats.MsgIdHdr))
	var funding FundingRequest
	require.NoError(t, json.Unmarshal(pub.msgs[0].Data, &funding))
	assert.Equal(t, "p-1", funding.PrincipalID)
	assert.Equal(t, "0xabc", funding.Address)

	assert.Equal(t, "jobs.role-grant", pub.msgs[1].Subject)
	assert.Equal(t, "role-grant:p-1:org-1", pub.msgs[1].Header.Get(nats.MsgIdHdr))
	var job RoleGrantJob
	require.NoError(t, json.Unmarshal(pub.msgs[1].Data, &job))
	assert.Equal(t, "admin", job.Role)
	assert.Equal(t, "0xabc", job.WalletAddress)

	pub.err = errors.New("no responders")
	assert.Error(t, q.EnqueueFunding(ctx, "p-1", "0xabc"))
}

func TestSiteNotifier(t *testing.T) {
	var (
		attempts atomic.Int32
		gotKey   atomic.String
		bodies   = make(chan SiteOpenRequest, 1)
	)

	r := chi.NewRouter()
	r.Post("/api/sites/open", func(w http.ResponseWriter, r *http.Request) {
		// First attempt fails to exercise retries
		if attempts.Inc() == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		gotKey.Store(r.Header.Get("Idempotency-Key"))
		var body SiteOpenRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		bodies <- body
		w.WriteHeader(http.StatusAccepted)
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	n := NewSiteNotifier(srv.URL+"/", 2, testLogger())
	require.NoError(t, n.NotifySiteOpen(context.Background(), "p-1", "12D3KooWPeer"))

	assert.Equal(t, int32(2), attempts.Load())
	assert.Equal(t, "site-open:12D3KooWPeer", gotKey.Load())
	assert.Equal(t, SiteOpenRequest{PrincipalID: "p-1", PeerID: "12D3KooWPeer"}, <-bodies)
}

func TestSiteNotifierClientError(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/api/sites/open", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown peer", http.StatusBadRequest)
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	n := NewSiteNotifier(srv.URL, 2, testLogger())
	err := n.NotifySiteOpen(context.Background(), "p-1", "12D3KooWPeer")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestLogOnly(t *testing.T) {
	l := NewLogOnly(testLogger())
	ctx := context.Background()

	var (
		_ interfaces.FundingEnqueuer   = l
		_ interfaces.RoleGrantEnqueuer = l
		_ interfaces.SiteNotifier      = l
	)

	assert.NoError(t, l.EnqueueFunding(ctx, "p-1", "0xabc"))
	assert.NoError(t, l.EnqueueRoleGrant(ctx, interfaces.Membership{}, "0xabc"))
	assert.NoError(t, l.NotifySiteOpen(ctx, "p-1", "peer"))
}
