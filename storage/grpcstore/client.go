// Package grpcstore serves and consumes blobs and feed updates over gRPC.
package grpcstore

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"xdao.co/feedsync/contenthash"
	"xdao.co/feedsync/feed"
	"xdao.co/feedsync/identity"
	"xdao.co/feedsync/storage"
)

// Client implements storage.Blobs and storage.FeedStore over the Storage gRPC service.
type Client struct {
	cc     *grpc.ClientConn
	client StorageClient

	// Timeout applies per RPC when non-zero.
	Timeout time.Duration
}

var (
	_ storage.Blobs     = (*Client)(nil)
	_ storage.FeedStore = (*Client)(nil)
)

type DialOptions struct {
	// Timeout applies to the initial dial when non-zero.
	Timeout time.Duration

	// MaxMsgBytes sets both send/recv max sizes when non-zero.
	MaxMsgBytes int

	// Extra dial options, e.g. a context dialer for tests.
	Extra []grpc.DialOption
}

func Dial(target string, opts DialOptions) (*Client, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if opts.MaxMsgBytes > 0 {
		dialOpts = append(dialOpts,
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(opts.MaxMsgBytes),
				grpc.MaxCallSendMsgSize(opts.MaxMsgBytes),
			),
		)
	}
	dialOpts = append(dialOpts, opts.Extra...)

	ctx := context.Background()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cc, err := grpc.DialContext(ctx, target, dialOpts...)
	if err != nil {
		return nil, err
	}
	return &Client{cc: cc, client: NewStorageClient(cc)}, nil
}

func (c *Client) Close() error {
	if c == nil || c.cc == nil {
		return nil
	}
	return c.cc.Close()
}

// Storage returns the protocol view of the remote store, signing feed writes locally.
func (c *Client) Storage() storage.Storage {
	return storage.Compose(c, storage.SignedFeeds{Store: c})
}

func (c *Client) Write(ctx context.Context, data []byte) (contenthash.Hash, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()

	reply, err := c.client.PutBlob(ctx, wrapperspb.Bytes(data))
	if err != nil {
		return "", mapRPC(err)
	}
	h, err := contenthash.Parse(reply.GetValue())
	if err != nil {
		return "", storage.ErrInvalidHash
	}
	if h != contenthash.Sum(data) {
		return "", storage.ErrHashMismatch
	}
	return h, nil
}

func (c *Client) Read(ctx context.Context, h contenthash.Hash) ([]byte, error) {
	if _, err := contenthash.Parse(string(h)); err != nil {
		return nil, storage.ErrInvalidHash
	}
	ctx, cancel := c.ctx(ctx)
	defer cancel()

	reply, err := c.client.GetBlob(ctx, wrapperspb.String(h.String()))
	if err != nil {
		return nil, mapRPC(err)
	}
	b := reply.GetValue()
	if !h.Matches(b) {
		return nil, storage.ErrHashMismatch
	}
	if b == nil {
		b = []byte{}
	}
	return b, nil
}

func (c *Client) Put(ctx context.Context, u feed.Update) error {
	ctx, cancel := c.ctx(ctx)
	defer cancel()

	_, err := c.client.PutFeed(ctx, updateToStruct(u))
	return mapRPC(err)
}

func (c *Client) Get(ctx context.Context, address identity.Address, topic feed.Topic) (feed.Update, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()

	reply, err := c.client.GetFeed(ctx, feedKeyToStruct(address, topic))
	if err != nil {
		return feed.Update{}, mapRPC(err)
	}
	u, err := updateFromStruct(reply)
	if err != nil {
		return feed.Update{}, err
	}
	// A relay must not be able to substitute someone else's pointer.
	if u.Address != address || u.Topic != topic {
		return feed.Update{}, storage.ErrInvalidSignature
	}
	if err := u.Verify(); err != nil {
		return feed.Update{}, storage.ErrInvalidSignature
	}
	return u, nil
}

func (c *Client) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, c.Timeout)
}
