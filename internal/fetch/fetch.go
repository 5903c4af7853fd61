// Package fetch stages s3:// and http(s):// inputs into a local cache
// directory so the readers only ever see local files.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/banshee-data/parcelmerge/internal/httputil"
	"github.com/banshee-data/parcelmerge/internal/monitoring"
	"github.com/banshee-data/parcelmerge/internal/security"
)

// ErrNotFound is returned when neither an object nor a prefix exists.
var ErrNotFound = errors.New("remote input not found")

// API is the subset of the S3 client the resolver uses.
type API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Options configures the S3 client and cache.
type Options struct {
	CacheDir  string
	Region    string
	Endpoint  string // optional; S3-compatible stores such as MinIO
	PathStyle bool
}

// Resolver maps configured input paths to local files, downloading remote
// ones on first use. Local paths pass through untouched.
type Resolver struct {
	cacheDir string
	opts     Options

	mu     sync.Mutex
	client API
	http   httputil.HTTPClient
}

// NewResolver returns a resolver whose S3 client is built on the first
// remote path, from the default AWS credential chain.
func NewResolver(opts Options) *Resolver {
	return &Resolver{cacheDir: opts.CacheDir, opts: opts, http: httputil.NewStandardClient(nil)}
}

// NewResolverWithClient uses an explicit S3 client.
func NewResolverWithClient(client API, cacheDir string) *Resolver {
	return &Resolver{cacheDir: cacheDir, client: client, http: httputil.NewStandardClient(nil)}
}

// SetHTTPClient replaces the client used for http(s):// inputs.
func (r *Resolver) SetHTTPClient(c httputil.HTTPClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.http = c
}

func (r *Resolver) api(ctx context.Context) (API, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		return r.client, nil
	}
	var loadOpts []func(*awsconfig.LoadOptions) error
	if r.opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(r.opts.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	r.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = r.opts.PathStyle
		if r.opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(r.opts.Endpoint)
		}
	})
	return r.client, nil
}

// Resolve returns a local path for p. Remote files are downloaded together
// with their sidecar files. For s3:// URLs a key ending in "/" (or a key
// with no object behind it) is treated as a prefix and mirrored as a
// directory.
func (r *Resolver) Resolve(ctx context.Context, p string) (string, error) {
	if !security.IsRemote(p) {
		return p, nil
	}
	if !strings.HasPrefix(p, "s3://") {
		return r.resolveHTTP(ctx, p)
	}
	bucket, key, err := ParseURL(p)
	if err != nil {
		return "", err
	}
	client, err := r.api(ctx)
	if err != nil {
		return "", err
	}

	if key == "" || strings.HasSuffix(key, "/") {
		return r.mirrorPrefix(ctx, client, bucket, key)
	}

	local, err := r.download(ctx, client, bucket, key)
	if isNoSuchKey(err) {
		// ArcInfo grids and shapefile folders are referenced without a
		// trailing slash.
		return r.mirrorPrefix(ctx, client, bucket, key+"/")
	}
	if err != nil {
		return "", err
	}
	for _, sib := range sidecars(key) {
		if _, err := r.download(ctx, client, bucket, sib); err != nil && !isNoSuchKey(err) {
			return "", err
		}
	}
	return local, nil
}

// ParseURL splits s3://bucket/key.
func ParseURL(raw string) (bucket, key string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parse %q: %w", raw, err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("%q is not an s3://bucket/key URL", raw)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

// sidecars lists the companion files a reader of key will look for.
func sidecars(key string) []string {
	ext := strings.ToLower(path.Ext(key))
	base := strings.TrimSuffix(key, path.Ext(key))
	var exts []string
	switch ext {
	case ".shp":
		exts = []string{".shx", ".dbf", ".prj", ".cpg"}
	case ".flt", ".bil":
		exts = []string{".hdr", ".prj"}
	case ".asc":
		exts = []string{".prj"}
	case ".gpkg":
		return nil
	}
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		out = append(out, base+e)
	}
	return out
}

func (r *Resolver) localPath(bucket, key string) (string, error) {
	root := filepath.Join(r.cacheDir, security.SanitizeFilename(bucket))
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("create cache dir: %w", err)
	}
	local := filepath.Join(root, filepath.FromSlash(key))
	if err := security.ValidatePathWithinDirectory(local, root); err != nil {
		return "", err
	}
	return local, nil
}

func (r *Resolver) mirrorPrefix(ctx context.Context, client API, bucket, prefix string) (string, error) {
	keys, err := listKeys(ctx, client, bucket, prefix)
	if err != nil {
		return "", err
	}
	if len(keys) == 0 {
		return "", fmt.Errorf("s3://%s/%s: %w", bucket, prefix, ErrNotFound)
	}
	for _, k := range keys {
		if strings.HasSuffix(k, "/") {
			continue
		}
		if _, err := r.download(ctx, client, bucket, k); err != nil {
			return "", err
		}
	}
	dir, err := r.localPath(bucket, strings.TrimSuffix(prefix, "/"))
	if err != nil {
		return "", err
	}
	monitoring.Logf("[fetch] mirrored s3://%s/%s (%d objects) to %s", bucket, prefix, len(keys), dir)
	return dir, nil
}

func listKeys(ctx context.Context, client API, bucket, prefix string) ([]string, error) {
	var keys []string
	var token *string
	for {
		out, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", bucket, prefix, err)
		}
		for _, obj := range out.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
		if aws.ToBool(out.IsTruncated) && out.NextContinuationToken != nil {
			token = out.NextContinuationToken
			continue
		}
		break
	}
	sort.Strings(keys)
	return keys, nil
}

// download copies one object into the cache, reusing an existing copy.
func (r *Resolver) download(ctx context.Context, client API, bucket, key string) (string, error) {
	local, err := r.localPath(bucket, key)
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(local); err == nil && !info.IsDir() {
		monitoring.Debugf("[fetch] cache hit %s", local)
		return local, nil
	}

	out, err := client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return "", fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	n, err := install(local, out.Body)
	if err != nil {
		return "", fmt.Errorf("download s3://%s/%s: %w", bucket, key, err)
	}
	monitoring.Debugf("[fetch] downloaded s3://%s/%s (%d bytes)", bucket, key, n)
	return local, nil
}

// install writes body to a temporary file beside local, then renames it
// into place so a partial download never looks cached.
func install(local string, body io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return 0, fmt.Errorf("create cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(local), ".fetch-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	n, err := io.Copy(tmp, body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return 0, err
	}
	if err := os.Rename(tmp.Name(), local); err != nil {
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("install %s: %w", local, err)
	}
	return n, nil
}

func isNoSuchKey(err error) bool {
	if err == nil {
		return false
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	return errors.As(err, &nf)
}
