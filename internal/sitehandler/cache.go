package sitehandler

import (
	"path"
	"strings"
)

// assetExt are fingerprint-friendly static assets that get the long-lived policy
var assetExt = map[string]bool{
	".css": true, ".js": true, ".mjs": true,
	".png": true, ".jpg": true, ".jpeg": true, ".webp": true, ".avif": true, ".gif": true, ".svg": true, ".ico": true,
	".woff": true, ".woff2": true, ".ttf": true, ".eot": true,
	".map": true,
}

func cacheControlForFile(name string, o *Options) string {
	ext := strings.ToLower(path.Ext(name))
	switch {
	// no extension is treated like html so it is always revalidated
	case ext == ".html" || ext == ".htm" || ext == "":
		return o.HTMLCacheControl
	case assetExt[ext]:
		return o.AssetCacheControl
	default:
		return o.OtherCacheControl
	}
}
