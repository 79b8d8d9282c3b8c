// Package outputs moves a finished render's files into storage and records
// them as assets.
package outputs

import (
	"context"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"subforge/internal/models"
	"subforge/internal/pkg/errors"
	"subforge/internal/pkg/logger"
	"subforge/internal/ports"
)

const (
	KindOverlay      = "render_overlay"
	KindOverlayFrame = "render_overlay_frame"
)

// AssetStore records uploaded files.
type AssetStore interface {
	Create(ctx context.Context, a *models.Asset) error
}

type Config struct {
	// LocalRoot resolves relative output paths reported by the renderer.
	LocalRoot string
	// CleanupLocal removes local files once uploaded to a remote provider.
	CleanupLocal bool
}

type Publisher struct {
	sp     ports.StorageProvider
	assets AssetStore
	cfg    Config
	log    *logger.Logger
}

func NewPublisher(sp ports.StorageProvider, assets AssetStore, cfg Config, log *logger.Logger) *Publisher {
	if log == nil {
		log = logger.Discard()
	}
	return &Publisher{sp: sp, assets: assets, cfg: cfg, log: log.WithComponent("outputs")}
}

// Publish uploads outputPath, a single file or a directory holding an image
// sequence, under renders/<operationID>/ and returns the recorded assets in
// key order.
func (p *Publisher) Publish(ctx context.Context, operationID, outputPath string) ([]models.Asset, error) {
	if strings.TrimSpace(outputPath) == "" {
		return nil, errors.ValidationField("output_path", "renderer reported no output path")
	}
	src := outputPath
	if !filepath.IsAbs(src) && p.cfg.LocalRoot != "" {
		src = filepath.Join(p.cfg.LocalRoot, src)
	}

	st, err := os.Stat(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound("render output", outputPath)
		}
		return nil, errors.Wrap(err, "outputs.publish", "stat output")
	}

	files, kind := []string{src}, KindOverlay
	if st.IsDir() {
		files, err = listFiles(src)
		if err != nil {
			return nil, err
		}
		kind = KindOverlayFrame
		if len(files) == 0 {
			return nil, errors.Validation("render output directory is empty").WithField("output_path", outputPath)
		}
	}

	log := p.log.WithOperationID(operationID)
	assets := make([]models.Asset, 0, len(files))
	for _, f := range files {
		rel := filepath.Base(f)
		if st.IsDir() {
			rel, _ = filepath.Rel(src, f)
		}
		key := path.Join("renders", operationID, filepath.ToSlash(rel))

		a, err := p.upload(ctx, operationID, kind, key, f)
		if err != nil {
			return assets, err
		}
		assets = append(assets, a)
	}

	if p.cfg.CleanupLocal && p.sp.Remote() {
		p.cleanup(log, src, st.IsDir())
	}
	log.Info("render output published", "assets", len(assets), "provider", p.sp.Provider())
	return assets, nil
}

func (p *Publisher) upload(ctx context.Context, operationID, kind, key, file string) (models.Asset, error) {
	f, err := os.Open(file)
	if err != nil {
		return models.Asset{}, errors.Wrap(err, "outputs.upload", "open output file")
	}
	defer f.Close()

	var size int64
	if st, err := f.Stat(); err == nil {
		size = st.Size()
	}
	contentType := mime.TypeByExtension(filepath.Ext(file))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	out, err := p.sp.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   key,
		ContentType: contentType,
		Reader:      f,
		Size:        size,
	})
	if err != nil {
		return models.Asset{}, errors.Wrap(err, "outputs.upload", "store output file").WithField("object_key", key)
	}

	a := models.Asset{
		ID:          "ast_" + uuid.Must(uuid.NewV7()).String(),
		OperationID: operationID,
		Kind:        kind,
		Provider:    p.sp.Provider(),
		ObjectKey:   out.ObjectKey,
		Mime:        contentType,
		SizeBytes:   out.Size,
	}
	if err := p.assets.Create(ctx, &a); err != nil {
		return models.Asset{}, errors.Wrap(err, "outputs.upload", "record asset").WithField("object_key", key)
	}
	return a, nil
}

func (p *Publisher) cleanup(log *logger.Logger, src string, dir bool) {
	var err error
	if dir {
		err = os.RemoveAll(src)
	} else {
		err = os.Remove(src)
	}
	if err != nil {
		log.Warn("local output cleanup failed", "path", src, "error", err.Error())
	}
}

func listFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && !strings.HasPrefix(d.Name(), ".") {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "outputs.publish", "list output directory")
	}
	sort.Strings(files)
	return files, nil
}
