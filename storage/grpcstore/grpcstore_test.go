package grpcstore

import (
	"context"
	"crypto/rand"
	"errors"
	"net"
	"reflect"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"xdao.co/feedsync/feed"
	"xdao.co/feedsync/identity"
	"xdao.co/feedsync/storage"
	"xdao.co/feedsync/storage/memory"
	"xdao.co/feedsync/storage/testkit"
)

func startServer(t *testing.T, srv *Server) *Client {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	gs := grpc.NewServer(grpc.UnaryInterceptor(LoggingInterceptor(zaptest.NewLogger(t))))
	RegisterStorageServer(gs, srv)
	go func() {
		_ = gs.Serve(lis)
	}()
	t.Cleanup(gs.Stop)

	dialer := func(ctx context.Context, s string) (net.Conn, error) { return lis.Dial() }
	client, err := Dial("bufnet", DialOptions{Extra: []grpc.DialOption{grpc.WithContextDialer(dialer)}})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	client.Timeout = 2 * time.Second
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func newMemoryClient(t *testing.T) *Client {
	s := memory.New()
	return startServer(t, &Server{Blobs: s, Feeds: s})
}

func TestBlobsConformance(t *testing.T) {
	testkit.RunBlobsConformance(t, func(t *testing.T) storage.Blobs {
		return newMemoryClient(t)
	})
}

func TestFeedStoreConformance(t *testing.T) {
	testkit.RunFeedStoreConformance(t, func(t *testing.T) storage.FeedStore {
		return newMemoryClient(t)
	})
}

func generate(t *testing.T) identity.PrivateIdentity {
	t.Helper()
	id, err := identity.Generate(rand.Reader)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	return id
}

func TestStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newMemoryClient(t).Storage()
	owner := generate(t)

	h, err := st.Write(ctx, []byte("hello grpcstore"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := st.Feeds().Write(ctx, owner.Address, feed.ZeroTopic, h, feed.IdentitySigner(owner)); err != nil {
		t.Fatalf("Feeds().Write: %v", err)
	}

	got, err := st.Feeds().Read(ctx, owner.Address, feed.ZeroTopic)
	if err != nil {
		t.Fatalf("Feeds().Read: %v", err)
	}
	if got != h {
		t.Fatalf("feed hash: got %s, want %s", got, h)
	}

	b, err := st.Read(ctx, got)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(b) != "hello grpcstore" {
		t.Fatalf("payload mismatch")
	}
}

func TestBlobOnlyServerRejectsFeeds(t *testing.T) {
	client := startServer(t, &Server{Blobs: memory.New()})
	owner := generate(t)

	_, err := client.Get(context.Background(), owner.Address, feed.ZeroTopic)
	if status.Code(err) != codes.Unimplemented {
		t.Fatalf("expected Unimplemented, got %v", err)
	}
}

// lyingFeeds returns a valid update for a different owner.
type lyingFeeds struct {
	storage.FeedStore
	u feed.Update
}

func (l lyingFeeds) Get(context.Context, identity.Address, feed.Topic) (feed.Update, error) {
	return l.u, nil
}

func TestClientRejectsSubstitutedFeed(t *testing.T) {
	mallory, alice := generate(t), generate(t)

	u := testkit.SignedUpdate(t, mallory, feed.ZeroTopic, feed.Epoch{Time: 5, Level: feed.DefaultLevel}, "x")
	client := startServer(t, &Server{Blobs: memory.New(), Feeds: lyingFeeds{u: u}})

	if _, err := client.Get(context.Background(), alice.Address, feed.ZeroTopic); !errors.Is(err, storage.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestErrorMapping(t *testing.T) {
	for _, m := range codeForErr {
		wrapped := errors.Join(errors.New("context"), m.err)
		st := mapErr(wrapped)
		if status.Code(st) != m.code {
			t.Fatalf("%v: got code %v, want %v", m.err, status.Code(st), m.code)
		}
		if err := mapRPC(st); !errors.Is(err, m.err) {
			t.Fatalf("%v: mapRPC gave %v", m.err, err)
		}
	}
	if code := status.Code(mapErr(errors.New("boom"))); code != codes.Internal {
		t.Fatalf("unknown error: got code %v, want Internal", code)
	}
	if err := mapRPC(nil); err != nil {
		t.Fatalf("mapRPC(nil): %v", err)
	}
}

func TestUpdateStructRoundTrip(t *testing.T) {
	owner := generate(t)
	var topic feed.Topic
	copy(topic[:], "an arbitrary thirty-two byte key")
	u := testkit.SignedUpdate(t, owner, topic, feed.Epoch{Time: 1700000000, Level: 25}, "payload")

	got, err := updateFromStruct(updateToStruct(u))
	if err != nil {
		t.Fatalf("updateFromStruct: %v", err)
	}
	if !reflect.DeepEqual(u, got) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, u)
	}
	if err := got.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	s := updateToStruct(u)
	delete(s.Fields, fieldEpochTime)
	if _, err := updateFromStruct(s); err == nil {
		t.Fatalf("expected error for missing epoch time")
	}
}
