package originfs

import (
	"bytes"
	"embed"
	"html/template"
	"net/url"
	"path"
)

//go:embed templates
var templateFS embed.FS

var listingTmpl = template.Must(template.New("listing.html").ParseFS(templateFS, "templates/listing.html"))

// Renderer produces the HTML body for a directory listing. This is the
// spec's external "HTML rendering of directory listings" collaborator;
// Origin depends only on this interface.
type Renderer interface {
	RenderDirectory(entries []DirEntry, dirPath, sessionID string) ([]byte, error)
}

// DefaultRenderer renders directory listings from an embedded html/template.
type DefaultRenderer struct{}

type listingRow struct {
	Name  string
	Href  string
	IsDir bool
	Size  int64
}

type listingData struct {
	Path    string
	Entries []listingRow
	ZipHref string
}

// RenderDirectory lists entries under dirPath (relative to the share root,
// already URI-safe), generating links rooted at /{sessionID}/.
func (DefaultRenderer) RenderDirectory(entries []DirEntry, dirPath, sessionID string) ([]byte, error) {
	data := listingData{
		Path:    dirPath,
		ZipHref: joinShareURL(sessionID, dirPath, "__download__.zip"),
	}
	for _, e := range entries {
		data.Entries = append(data.Entries, listingRow{
			Name:  e.Name,
			Href:  joinShareURL(sessionID, dirPath, e.RelativePath),
			IsDir: e.IsDirectory,
			Size:  e.Size,
		})
	}

	var buf bytes.Buffer
	if err := listingTmpl.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func joinShareURL(sessionID, dirPath, name string) string {
	p := path.Join("/", sessionID, dirPath, name)
	u := url.URL{Path: p}
	return u.String()
}
