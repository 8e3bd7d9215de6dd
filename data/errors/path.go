package errors

import "github.com/stardustapp/skychat-sub000/data"

func InvalidPath(err error, path string) error {
	return newError(data.ErrInvalidPath, err, "invalid path '%s' detected", path)
}

func PathNotMounted(err error, path string) error {
	return newError(data.ErrNotMounted, err, "path '%s' not mounted", path)
}

func PathAlreadyMounted(err error, path string) error {
	return newError(data.ErrAlreadyMounted, err, "path '%s' already mounted", path)
}

func PathMountBusy(err error, path string) error {
	return newError(data.ErrMountBusy, err, "mount point '%s' busy", path)
}
