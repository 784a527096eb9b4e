package cdp

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"

	"clientsim/internal/config"
	"clientsim/pkg/model"
)

// ErrBrowserNotFound 找不到 chromium/chrome 可执行文件
var ErrBrowserNotFound = errors.New("failed to find chromium or google-chrome binary")

var binaryNames = []string{"chromium", "google-chrome", "google-chrome-stable", "chrome"}

// Flag 一个浏览器启动参数
type Flag struct {
	Name   flags.Flag
	Values []string
}

// FindBinary 查找浏览器可执行文件，显式配置优先
func FindBinary(explicit string) (string, error) {
	if explicit != "" {
		p, err := exec.LookPath(explicit)
		if err != nil {
			return "", fmt.Errorf("browser binary %q: %w", explicit, err)
		}
		return p, nil
	}
	for _, name := range binaryNames {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	if p, ok := launcher.LookPath(); ok {
		return p, nil
	}
	return "", ErrBrowserNotFound
}

// MediaFiles 伪造采集设备使用的音视频文件
type MediaFiles struct {
	Audio string
	Video string
}

// LaunchFlags 根据参与者配置生成启动参数
func LaunchFlags(s config.Settings, b config.BrowserConfig, media MediaFiles) []Flag {
	out := []Flag{{Name: "no-startup-window"}}

	switch s.Media().Kind {
	case model.FakeMediaBuiltin, model.FakeMediaFile:
		out = append(out,
			Flag{Name: "no-sandbox"},
			Flag{Name: "use-fake-ui-for-media-stream"},
			Flag{Name: "use-fake-device-for-media-stream"},
		)
		if media.Audio != "" {
			out = append(out, Flag{Name: "use-file-for-fake-audio-capture", Values: []string{media.Audio}})
		}
		if media.Video != "" {
			out = append(out, Flag{Name: "use-file-for-fake-video-capture", Values: []string{media.Video}})
		}
	}

	if !s.Headless {
		w, h := b.WindowWidth, b.WindowHeight
		if w <= 0 || h <= 0 {
			w, h = 1920, 1080
		}
		out = append(out, Flag{Name: "window-size", Values: []string{strconv.Itoa(w) + "," + strconv.Itoa(h)}})
	}
	return out
}

// ResolveMedia 将伪造媒体配置解析为本地文件，http(s) 地址会下载到缓存目录
func ResolveMedia(ctx context.Context, fm model.FakeMedia, cacheDir string) (MediaFiles, error) {
	if fm.Kind != model.FakeMediaFile {
		return MediaFiles{}, nil
	}

	file := fm.Source
	if u, ok := fm.URL(); ok {
		name := path.Base(u.Path)
		if name == "" || name == "/" || name == "." {
			name = "input.y4m"
		}
		sum := sha1.Sum([]byte(u.String()))
		file = filepath.Join(cacheDir, "download-cache", hex.EncodeToString(sum[:]), name)
		if _, err := os.Stat(file); err != nil {
			if err := download(ctx, u.String(), file); err != nil {
				return MediaFiles{}, err
			}
		}
	}
	if _, err := os.Stat(file); err != nil {
		return MediaFiles{}, fmt.Errorf("fake media %q: %w", file, err)
	}

	switch strings.ToLower(filepath.Ext(file)) {
	case ".wav":
		return MediaFiles{Audio: file}, nil
	case ".y4m", ".mjpeg":
		return MediaFiles{Video: file}, nil
	}
	return MediaFiles{}, fmt.Errorf("fake media %q: expected a .wav, .y4m or .mjpeg file", file)
}

func download(ctx context.Context, rawURL, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: unexpected status %d", rawURL, resp.StatusCode)
	}

	tmp := dst + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("download %s: %w", rawURL, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}
