package s3

import (
	"bytes"
	"context"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/notification"

	"github.com/stardustapp/skychat-sub000/data"
	dataerrors "github.com/stardustapp/skychat-sub000/data/errors"
	"github.com/stardustapp/skychat-sub000/entry"
	"github.com/stardustapp/skychat-sub000/enumerate"
	"github.com/stardustapp/skychat-sub000/projection"
)

type object struct {
	mount *S3Mount
	key   string
	name  string
	root  bool
}

func (o *object) Name() string {
	return o.name
}

func (o *object) Get(ctx context.Context) (*data.Entry, error) {
	root, err := o.mount.snapshot(ctx, o.key, o.root, 1)
	if err != nil || root == nil {
		return nil, err
	}
	return root.WithName(o.name), nil
}

// Put stores blobs and strings as single objects. A folder replaces every
// object below the key with its children.
func (o *object) Put(ctx context.Context, value *data.Entry) error {
	if err := o.mount.removeTree(ctx, o.key, o.root); err != nil {
		return err
	}
	if value == nil {
		return nil
	}
	if o.root && value.Type != data.TypeFolder {
		return dataerrors.Validation("", "bucket root must be a folder, got %s", value.Type)
	}
	return o.mount.write(ctx, o.key, value)
}

func (o *object) Enumerate(ctx context.Context, e *enumerate.Enumerator) error {
	return o.mount.walk(ctx, e, o.key, o.root)
}

func (o *object) Subscribe(ctx context.Context, depth int, ch projection.Channel) (*entry.Subscription, error) {
	if !o.mount.config.Notifications {
		return entry.PollSubscribe(ctx, o, depth, ch, o.mount.config.PollInterval, o.mount.logger)
	}
	return o.mount.listen(ctx, o.key, o.root, depth, ch)
}

// snapshot reads key to depth. A key that is neither an object nor a
// non-empty prefix yields nil.
func (sm *S3Mount) snapshot(ctx context.Context, key string, root bool, depth int) (*data.Entry, error) {
	e := enumerate.New(depth)
	if err := sm.walk(ctx, e, key, root); err != nil {
		return nil, err
	}
	return e.Reconstruct(), nil
}

func (sm *S3Mount) walk(ctx context.Context, e *enumerate.Enumerator, key string, root bool) error {
	if !root {
		blob, err := sm.read(ctx, key)
		if err != nil {
			return err
		}
		if blob != nil {
			e.Visit(blob)
			return nil
		}
	}

	children, err := sm.list(ctx, dirPrefix(key))
	if err != nil {
		return err
	}
	if len(children) == 0 && !root {
		return nil
	}

	e.Visit(data.NewFolderStub(path.Base(key)))
	if !e.CanDescend() {
		return nil
	}
	for _, child := range children {
		e.Descend(child)
		err := sm.walk(ctx, e, dirPrefix(key)+child, false)
		e.Ascend()
		if err != nil {
			return err
		}
	}
	return nil
}

// read fetches one object as a blob, or nil when the key does not exist.
func (sm *S3Mount) read(ctx context.Context, key string) (*data.Entry, error) {
	info, err := sm.client.StatObject(ctx, sm.config.Bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, dataerrors.BackingStore(err, sm.Name())
	}

	obj, err := sm.client.GetObject(ctx, sm.config.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, dataerrors.BackingStore(err, sm.Name())
	}
	defer obj.Close()

	raw, err := io.ReadAll(obj)
	if err != nil {
		return nil, dataerrors.BackingStore(err, sm.Name())
	}

	mime := info.ContentType
	if mime == "" || mime == data.MimeOctetStream {
		mime = data.MimeForName(key)
	}
	return data.NewBlob(path.Base(key), mime, raw), nil
}

// list returns the names of objects and sub-prefixes directly below prefix.
func (sm *S3Mount) list(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	for info := range sm.client.ListObjects(ctx, sm.config.Bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if info.Err != nil {
			return nil, dataerrors.BackingStore(info.Err, sm.Name())
		}
		name := strings.TrimSuffix(strings.TrimPrefix(info.Key, prefix), "/")
		if name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

func (sm *S3Mount) write(ctx context.Context, key string, value *data.Entry) error {
	switch value.Type {
	case data.TypeBlob, data.TypeString:
		payload, mime := value.Data, value.Mime
		if value.Type == data.TypeString {
			payload, mime = []byte(value.StringValue), data.MimeTextPlain
		}
		if mime == "" {
			mime = data.MimeForName(key)
		}
		_, err := sm.client.PutObject(ctx, sm.config.Bucket, key, bytes.NewReader(payload), int64(len(payload)),
			minio.PutObjectOptions{ContentType: mime})
		if err != nil {
			return dataerrors.BackingStore(err, sm.Name())
		}
		return nil

	case data.TypeFolder:
		for _, child := range value.Children {
			if child.Name == "" || strings.Contains(child.Name, "/") {
				return dataerrors.Validation(child.Name, "not a valid object name")
			}
			if err := sm.write(ctx, dirPrefix(key)+child.Name, child); err != nil {
				return err
			}
		}
		return nil
	}

	return dataerrors.Validation(value.Name, "%s entries cannot be stored as objects", value.Type)
}

// removeTree deletes the object at key and every object below it.
func (sm *S3Mount) removeTree(ctx context.Context, key string, root bool) error {
	if !root {
		if err := sm.client.RemoveObject(ctx, sm.config.Bucket, key, minio.RemoveObjectOptions{}); err != nil && !isNotFound(err) {
			return dataerrors.BackingStore(err, sm.Name())
		}
	}

	objects := sm.client.ListObjects(ctx, sm.config.Bucket, minio.ListObjectsOptions{
		Prefix:    dirPrefix(key),
		Recursive: true,
	})
	for rerr := range sm.client.RemoveObjects(ctx, sm.config.Bucket, objects, minio.RemoveObjectsOptions{}) {
		if rerr.Err != nil {
			return dataerrors.BackingStore(rerr.Err, sm.Name())
		}
	}
	return nil
}

// listen follows bucket notifications below key and re-reads the subtree
// on every event.
func (sm *S3Mount) listen(ctx context.Context, key string, root bool, depth int, ch projection.Channel) (*entry.Subscription, error) {
	state := projection.NewState(ch, projection.WithLogger(sm.logger))
	first, err := sm.snapshot(ctx, key, root, depth)
	if err != nil {
		return nil, err
	}

	sub := entry.NewSubscription(ctx, ch, state, nil)
	sub.Guard(func() {
		entry.Project(state, first, depth)
	})

	events := sm.client.ListenBucketNotification(sub.Context(), sm.config.Bucket, key, "", []string{
		string(notification.ObjectCreatedAll),
		string(notification.ObjectRemovedAll),
	})

	go func() {
		for info := range events {
			if sub.Stopped() {
				return
			}
			if info.Err != nil {
				if sub.Context().Err() == nil {
					sub.Crash(dataerrors.BackingStore(info.Err, sm.Name()))
				}
				return
			}
			if len(info.Records) == 0 {
				continue
			}

			current, err := sm.snapshot(sub.Context(), key, root, depth)
			if err != nil {
				if sub.Context().Err() == nil {
					sub.Crash(err)
				}
				return
			}
			sub.Guard(func() {
				entry.Project(state, current, depth)
			})
		}
	}()

	return sub, nil
}

func isNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return true
	}
	return false
}
