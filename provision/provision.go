// Package provision 确保 rhubarb 可执行文件在服务启动前就位：
// 已存在则直接使用，否则下载官方发布包并解压。
package provision

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/visemeflow/extractor"
	"github.com/BaSui01/visemeflow/internal/tlsutil"
)

// DefaultURL 是 rhubarb Linux 发布包的下载地址
const DefaultURL = "https://rhubarb-linux.s3.us-west-1.amazonaws.com/rhubarb_linux.zip"

// Config 工具下载配置
type Config struct {
	Enabled bool          `yaml:"enabled" env:"ENABLED"`
	URL     string        `yaml:"url" env:"URL"`
	Dir     string        `yaml:"dir" env:"DIR"` // 解压目标目录
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 下载包大小上限（字节）
	MaxBytes int64 `yaml:"max_bytes" env:"MAX_BYTES"`
}

// DefaultConfig returns the default provisioning settings.
func DefaultConfig() Config {
	return Config{
		Enabled:  true,
		URL:      DefaultURL,
		Dir:      ".",
		Timeout:  5 * time.Minute,
		MaxBytes: 256 << 20,
	}
}

// Provisioner downloads and unpacks the extraction tool on demand.
type Provisioner struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New creates a provisioner using the hardened TLS client.
func New(cfg Config, logger *zap.Logger) *Provisioner {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.Dir == "" {
		cfg.Dir = def.Dir
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = def.MaxBytes
	}
	return &Provisioner{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(cfg.Timeout),
		logger: logger.With(zap.String("component", "provision")),
	}
}

// WithHTTPClient replaces the download client.
func (p *Provisioner) WithHTTPClient(client *http.Client) *Provisioner {
	p.client = client
	return p
}

// Ensure returns binaryPath once it names an executable. A missing binary
// is downloaded when provisioning is enabled; any failure is returned and
// should abort startup.
func (p *Provisioner) Ensure(ctx context.Context, binaryPath string) (string, error) {
	if err := extractor.CheckBinary(binaryPath); err == nil {
		p.logger.Debug("rhubarb binary present", zap.String("path", binaryPath))
		return binaryPath, nil
	} else if !p.cfg.Enabled {
		return "", fmt.Errorf("rhubarb unavailable and provisioning disabled: %w", err)
	}

	p.logger.Info("downloading rhubarb",
		zap.String("url", p.cfg.URL),
		zap.String("dir", p.cfg.Dir),
	)
	start := time.Now()

	if err := os.MkdirAll(p.cfg.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create provision dir: %w", err)
	}

	archive, err := p.download(ctx)
	if err != nil {
		return "", err
	}
	defer os.Remove(archive)

	n, err := Unzip(archive, p.cfg.Dir)
	if err != nil {
		return "", err
	}

	// 发布包中的可执行位不可靠，统一设置
	if err := os.Chmod(binaryPath, 0o755); err != nil {
		return "", fmt.Errorf("chmod rhubarb: %w", err)
	}
	if err := extractor.CheckBinary(binaryPath); err != nil {
		return "", fmt.Errorf("rhubarb still unavailable after provisioning: %w", err)
	}

	p.logger.Info("rhubarb provisioned",
		zap.String("path", binaryPath),
		zap.Int("files", n),
		zap.Duration("elapsed", time.Since(start)),
	)
	return binaryPath, nil
}

func (p *Provisioner) download(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.URL, nil)
	if err != nil {
		return "", fmt.Errorf("build download request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download rhubarb: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download rhubarb: unexpected status %s", resp.Status)
	}

	f, err := os.CreateTemp(p.cfg.Dir, "rhubarb-*.zip")
	if err != nil {
		return "", fmt.Errorf("create archive file: %w", err)
	}
	name := f.Name()

	written, err := io.Copy(f, io.LimitReader(resp.Body, p.cfg.MaxBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && written > p.cfg.MaxBytes {
		err = fmt.Errorf("archive exceeds %d bytes", p.cfg.MaxBytes)
	}
	if err != nil {
		os.Remove(name)
		return "", fmt.Errorf("download rhubarb: %w", err)
	}
	return name, nil
}

// ErrUnsafePath is returned for archive entries that would escape the
// destination directory.
var ErrUnsafePath = errors.New("archive entry escapes destination")

// Unzip extracts every entry of the archive into dest and returns the
// number of files written.
func Unzip(archive, dest string) (int, error) {
	r, err := zip.OpenReader(archive)
	if errors.Is(err, zip.ErrInsecurePath) {
		r.Close()
		return 0, fmt.Errorf("%w: %v", ErrUnsafePath, err)
	}
	if err != nil {
		return 0, fmt.Errorf("open archive: %w", err)
	}
	defer r.Close()

	root, err := filepath.Abs(dest)
	if err != nil {
		return 0, err
	}

	files := 0
	for _, f := range r.File {
		target := filepath.Join(root, filepath.FromSlash(f.Name))
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return files, fmt.Errorf("%w: %s", ErrUnsafePath, f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return files, err
			}
			continue
		}
		if err := extractFile(f, target); err != nil {
			return files, err
		}
		files++
	}
	return files, nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	mode := f.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("extract %s: %w", f.Name, err)
	}
	return out.Close()
}
