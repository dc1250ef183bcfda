package workspace

import (
	"context"
	"io"
	"time"

	"github.com/Bheem-Platform/bheem-workspace-sub001/client"
)

// FilesService wraps the drive/file endpoints.
type FilesService struct {
	api *client.Client
}

// File is a stored document's metadata.
type File struct {
	ID        string    `json:"id"`
	FolderID  string    `json:"folder_id"`
	Name      string    `json:"name"`
	MimeType  string    `json:"mime_type"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type fileList struct {
	Files []File `json:"files"`
}

// List returns the files in a folder. An empty folderID lists the root.
func (s *FilesService) List(ctx context.Context, folderID string) ([]File, error) {
	var params map[string]any
	if folderID != "" {
		params = map[string]any{"folder_id": folderID}
	}
	var out fileList
	if err := s.api.Get(ctx, "/files", &out, client.WithQuery(params)); err != nil {
		return nil, err
	}
	return out.Files, nil
}

// Upload stores a new file in the given folder. progress may be nil.
func (s *FilesService) Upload(ctx context.Context, folderID, name string, r io.Reader, progress func(sent, total int64)) (File, error) {
	fields := map[string]string{}
	if folderID != "" {
		fields["folder_id"] = folderID
	}

	opts := []client.RequestOption{}
	if progress != nil {
		opts = append(opts, client.WithProgress(progress))
	}

	var f File
	if err := s.api.UploadFile(ctx, "/files/upload", name, r, fields, &f, opts...); err != nil {
		return File{}, err
	}
	return f, nil
}

// Download streams a file's content into w, returning the byte count.
func (s *FilesService) Download(ctx context.Context, fileID string, w io.Writer) (int64, error) {
	return s.api.DownloadFile(ctx, "/files/"+fileID+"/download", w)
}
