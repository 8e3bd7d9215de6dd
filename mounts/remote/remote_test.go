package remote_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	skylink "github.com/stardustapp/skychat-sub000"
	"github.com/stardustapp/skychat-sub000/data"
	"github.com/stardustapp/skychat-sub000/log"
	"github.com/stardustapp/skychat-sub000/mount"
	"github.com/stardustapp/skychat-sub000/mounts/literal"
	"github.com/stardustapp/skychat-sub000/mounts/remote"
	"github.com/stardustapp/skychat-sub000/projection"
	"github.com/stardustapp/skychat-sub000/transport"
)

func newNamespace(t *testing.T) *skylink.Namespace {
	t.Helper()
	ns, err := skylink.NewNamespace(skylink.WithLogger(log.Discard()))
	require.NoError(t, err)
	t.Cleanup(func() { ns.Shutdown(context.Background()) })
	return ns
}

// newUpstream serves a literal tree and returns its websocket url.
func newUpstream(t *testing.T) string {
	t.Helper()

	tree := literal.New(data.NewFolder("",
		data.NewFolder("shared",
			data.NewString("motd", "from afar"),
			data.NewFolder("rooms",
				data.NewFolder("general", data.NewString("topic", "hi")),
			),
		),
		data.NewString("private", "hidden"),
	))
	require.NoError(t, tree.Register("shared/length", func(ctx context.Context, input *data.Entry) (*data.Entry, error) {
		return data.NewString("length", strings.Repeat("x", len(input.StringValue))), nil
	}))

	upstream := newNamespace(t)
	require.NoError(t, upstream.Mount(t.Context(), "/", tree))

	server := transport.NewServer(upstream, log.Discard(), nil)
	httpServer := httptest.NewServer(server)
	t.Cleanup(func() {
		server.Close()
		httpServer.Close()
	})
	return "ws" + strings.TrimPrefix(httpServer.URL, "http")
}

func mountRemote(t *testing.T, url string) (*skylink.Namespace, *remote.RemoteMount) {
	t.Helper()

	rm, err := remote.NewRemoteMount(remote.RemoteMountConfig{URL: url, Path: "/shared"}, log.Discard())
	require.NoError(t, err)

	ns := newNamespace(t)
	require.NoError(t, ns.Mount(t.Context(), "/upstream", rm, mount.WithBackend(rm)))
	return ns, rm
}

func TestNewRemoteMountRequiresURL(t *testing.T) {
	_, err := remote.NewRemoteMount(remote.RemoteMountConfig{}, nil)
	require.ErrorIs(t, err, data.ErrInvalid)
}

func TestRemoteGetPutEnumerate(t *testing.T) {
	ns, _ := mountRemote(t, newUpstream(t))
	ctx := t.Context()

	got, err := ns.Get(ctx, "/upstream/motd")
	require.NoError(t, err)
	require.Equal(t, "from afar", got.StringValue)
	require.Equal(t, "motd", got.Name)

	got, err = ns.Get(ctx, "/upstream/missing")
	require.NoError(t, err)
	require.Nil(t, got)

	require.NoError(t, ns.Put(ctx, "/upstream/motd", data.NewString("motd", "changed")))
	got, err = ns.Get(ctx, "/upstream/motd")
	require.NoError(t, err)
	require.Equal(t, "changed", got.StringValue)

	results, err := ns.Enumerate(ctx, "/upstream/rooms", 2)
	require.NoError(t, err)
	names := make([]string, 0, len(results))
	for _, e := range results {
		names = append(names, e.Name+":"+e.Type.String())
	}
	require.Equal(t, []string{":Folder", "general:Folder", "general/topic:String"}, names)

	out, err := ns.Invoke(ctx, "/upstream/length", data.NewString("in", "four"))
	require.NoError(t, err)
	require.Equal(t, "xxxx", out.StringValue)
}

func TestRemoteSubscribe(t *testing.T) {
	ns, _ := mountRemote(t, newUpstream(t))
	ctx := t.Context()

	q := projection.NewQueue(64, time.Second)
	sub, err := ns.Subscribe(ctx, "/upstream/rooms/general", 1, q)
	require.NoError(t, err)

	var got []string
	collect := func(n int) {
		for len(got) < n {
			select {
			case ev := <-q.Events():
				require.NotNil(t, ev.Notification, "unexpected terminal event %+v", ev)
				got = append(got, ev.Notification.String())
			case <-time.After(2 * time.Second):
				t.Fatalf("timeout, got %v", got)
			}
		}
	}

	collect(2)
	require.Equal(t, []string{`Added("topic", String "hi")`, "Ready"}, got)

	require.NoError(t, ns.Put(ctx, "/upstream/rooms/general/topic", data.NewString("topic", "news")))
	collect(3)
	require.Equal(t, `Changed("topic", String "news")`, got[2])

	sub.Stop()
}

func TestRemoteClosed(t *testing.T) {
	ns, rm := mountRemote(t, newUpstream(t))
	ctx := t.Context()

	q := projection.NewQueue(64, time.Second)
	_, err := ns.Subscribe(ctx, "/upstream/rooms", 1, q)
	require.NoError(t, err)

	require.NoError(t, rm.Close(ctx))

	_, err = ns.Get(ctx, "/upstream/motd")
	require.ErrorIs(t, err, data.ErrClosed)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-q.Events():
			require.True(t, ok)
			if ev.Terminal() {
				require.ErrorIs(t, ev.Err, transport.ErrConnectionLost)
				return
			}
		case <-deadline:
			t.Fatal("subscription was not crashed")
		}
	}
}
