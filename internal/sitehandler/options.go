package sitehandler

import (
	"errors"
	"io/fs"

	"github.com/keithlinneman/linnemanlabs-edge/internal/log"
	"github.com/keithlinneman/linnemanlabs-edge/internal/xerrors"
)

var ErrInvalidOptions = errors.New("sitehandler: invalid options")

type Options struct {
	Logger log.Logger

	// FS is the asset directory, paths inside are relative with no leading slash
	FS fs.FS

	// Site404File is served with status 404 when present in FS. default: "404.html"
	Site404File string

	// Cache policies applied by file extension.
	HTMLCacheControl  string // default: "no-cache"
	AssetCacheControl string // default: "public, max-age=31536000, immutable"
	OtherCacheControl string // default: "public, max-age=3600"
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = log.Nop()
	}
	if o.Site404File == "" {
		o.Site404File = "404.html"
	}
	if o.HTMLCacheControl == "" {
		o.HTMLCacheControl = "no-cache"
	}
	if o.AssetCacheControl == "" {
		o.AssetCacheControl = "public, max-age=31536000, immutable"
	}
	if o.OtherCacheControl == "" {
		o.OtherCacheControl = "public, max-age=3600"
	}
}

func (o *Options) validate() error {
	if o.FS == nil {
		return xerrors.Wrap(ErrInvalidOptions, "FS is nil")
	}
	if !fs.ValidPath(o.Site404File) {
		return xerrors.Wrapf(ErrInvalidOptions, "Site404File %q is not a valid relative path", o.Site404File)
	}
	return nil
}
