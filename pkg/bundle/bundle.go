package bundle

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/amosWeiskopf/sitesnap/internal/models"
	"github.com/amosWeiskopf/sitesnap/pkg/utils"
)

// Request describes what goes into a bundle
type Request struct {
	Target   models.Target
	Mode     models.Mode
	Document models.DownloadRecord
	Images   []models.DownloadRecord
	// Extras are additional files copied into the folder, such as the
	// extracted page text.
	Extras  []models.DownloadRecord
	Archive bool
}

// Assembler lays fetched artifacts out under an output directory
type Assembler struct {
	outputDir string
	logger    zerolog.Logger
}

// New creates an Assembler writing under outputDir
func New(outputDir string, logger zerolog.Logger) *Assembler {
	if outputDir == "" {
		outputDir = "."
	}
	return &Assembler{outputDir: outputDir, logger: logger}
}

// FolderName is the bundle folder for a display name and mode
func FolderName(displayName string, mode models.Mode) string {
	return utils.SanitizeFilename(displayName) + "_" + string(mode) + "_files"
}

// ArchiveName is the zip file name for a display name
func ArchiveName(displayName string) string {
	return utils.SanitizeFilename(displayName) + ".zip"
}

// Assemble creates a fresh bundle folder and fills it with the document,
// every successfully downloaded image and any extras. Images are placed in
// record order, so two images with the same name resolve to the last one.
// Failed image records are kept as members but have no file.
//
// With Archive set the folder is zipped and then removed. If archiving
// fails the folder is left in place and the error returned alongside the
// bundle.
func (a *Assembler) Assemble(req Request) (*models.Bundle, error) {
	folder := filepath.Join(a.outputDir, FolderName(req.Target.DisplayName, req.Mode))
	if err := os.RemoveAll(folder); err != nil {
		return nil, &models.FilesystemError{Op: "remove", Path: folder, Err: err}
	}
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return nil, &models.FilesystemError{Op: "mkdir", Path: folder, Err: err}
	}

	bundle := &models.Bundle{FolderPath: folder}

	doc := req.Document
	if doc.Name == "" {
		doc.Name = filepath.Base(doc.LocalPath)
	}
	dest := filepath.Join(folder, doc.Name)
	if err := copyFile(doc.LocalPath, dest); err != nil {
		return nil, err
	}
	doc.LocalPath = dest
	bundle.Members = append(bundle.Members, doc)

	for _, rec := range req.Images {
		if !rec.Succeeded {
			bundle.Members = append(bundle.Members, rec)
			continue
		}
		dest := filepath.Join(folder, rec.Name)
		if err := moveFile(rec.LocalPath, dest); err != nil {
			return nil, err
		}
		rec.LocalPath = dest
		bundle.Members = append(bundle.Members, rec)
	}

	for _, rec := range req.Extras {
		if rec.Name == "" {
			rec.Name = filepath.Base(rec.LocalPath)
		}
		dest := filepath.Join(folder, rec.Name)
		if err := copyFile(rec.LocalPath, dest); err != nil {
			return nil, err
		}
		rec.LocalPath = dest
		bundle.Members = append(bundle.Members, rec)
	}

	if !req.Archive {
		a.logger.Info().Str("folder", folder).Int("members", len(bundle.Members)).Msg("bundle saved")
		return bundle, nil
	}

	archivePath := filepath.Join(a.outputDir, ArchiveName(req.Target.DisplayName))
	if err := writeArchive(folder, archivePath); err != nil {
		return bundle, fmt.Errorf("archive %s: %w", folder, err)
	}
	bundle.ArchivePath = archivePath
	a.logger.Info().Str("archive", archivePath).Msg("files zipped")

	if err := os.RemoveAll(folder); err != nil {
		return bundle, &models.FilesystemError{Op: "remove", Path: folder, Err: err}
	}
	a.logger.Debug().Str("folder", folder).Msg("folder deleted")
	return bundle, nil
}

// Cleanup removes the first existing path among candidates and reports
// which one it removed. Missing files are skipped; any other failure is
// returned once every candidate has been tried.
func Cleanup(candidates ...string) (string, error) {
	var errs []error
	for _, path := range candidates {
		err := os.Remove(path)
		if err == nil {
			return path, nil
		}
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		errs = append(errs, &models.FilesystemError{Op: "remove", Path: path, Err: err})
	}
	return "", errors.Join(errs...)
}

// writeArchive zips every file below folder with names relative to the
// folder root. The archive is closed before returning; a partial archive
// is removed on failure.
func writeArchive(folder, archivePath string) (err error) {
	out, err := os.Create(archivePath)
	if err != nil {
		return &models.FilesystemError{Op: "create", Path: archivePath, Err: err}
	}
	defer func() {
		if err != nil {
			out.Close()
			os.Remove(archivePath)
		}
	}()

	zw := zip.NewWriter(out)
	err = filepath.WalkDir(folder, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(folder, path)
		if err != nil {
			return err
		}
		return addToArchive(zw, path, filepath.ToSlash(rel))
	})
	if err != nil {
		return &models.FilesystemError{Op: "archive", Path: archivePath, Err: err}
	}
	if err = zw.Close(); err != nil {
		return &models.FilesystemError{Op: "close", Path: archivePath, Err: err}
	}
	if err = out.Sync(); err != nil {
		return &models.FilesystemError{Op: "sync", Path: archivePath, Err: err}
	}
	if err = out.Close(); err != nil {
		return &models.FilesystemError{Op: "close", Path: archivePath, Err: err}
	}
	return nil
}

func addToArchive(zw *zip.Writer, path, name string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = name
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return &models.FilesystemError{Op: "open", Path: src, Err: err}
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return &models.FilesystemError{Op: "create", Path: dst, Err: err}
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return &models.FilesystemError{Op: "write", Path: dst, Err: err}
	}
	if err := out.Close(); err != nil {
		return &models.FilesystemError{Op: "close", Path: dst, Err: err}
	}
	return nil
}

// moveFile renames src to dst, overwriting dst. It falls back to copy and
// remove when a rename is not possible, e.g. across devices.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil {
		return &models.FilesystemError{Op: "remove", Path: src, Err: err}
	}
	return nil
}
