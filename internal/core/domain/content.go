package domain

import (
	"encoding/json"
	"path"
	"sort"
	"strings"
)

// ContentData describes a binary content payload carried by a node.
type ContentData struct {
	// URL locates the payload in the source content store.
	URL string `json:"url"`

	// Size is the payload length in bytes.
	Size int64 `json:"size"`

	MimeType string `json:"mimetype,omitempty"`
	Encoding string `json:"encoding,omitempty"`
}

// PartName returns the multipart part name used to transport the content:
// the final path segment of its URL.
func (c ContentData) PartName() string {
	return ContentPartName(c.URL)
}

// ContentPartName derives a transport part name from a content URL.
func ContentPartName(url string) string {
	if _, rest, ok := strings.Cut(url, "://"); ok {
		url = rest
	}
	return path.Base(url)
}

// DeltaList is the string-sorted set of content URLs a receiver still needs.
type DeltaList struct {
	urls []string
}

// NewDeltaList builds a delta list, sorting and collapsing duplicates.
func NewDeltaList(urls ...string) *DeltaList {
	d := &DeltaList{}
	for _, u := range urls {
		d.Add(u)
	}
	return d
}

// Add inserts a URL, keeping the list sorted and duplicate free.
func (d *DeltaList) Add(url string) {
	i := sort.SearchStrings(d.urls, url)
	if i < len(d.urls) && d.urls[i] == url {
		return
	}
	d.urls = append(d.urls, "")
	copy(d.urls[i+1:], d.urls[i:])
	d.urls[i] = url
}

// Contains reports whether the URL is required.
func (d *DeltaList) Contains(url string) bool {
	i := sort.SearchStrings(d.urls, url)
	return i < len(d.urls) && d.urls[i] == url
}

// URLs returns a copy of the required URLs in sorted order.
func (d *DeltaList) URLs() []string {
	out := make([]string, len(d.urls))
	copy(out, d.urls)
	return out
}

// Len returns the number of required URLs.
func (d *DeltaList) Len() int {
	return len(d.urls)
}

// MarshalJSON encodes the list as {"required":[...]}.
func (d *DeltaList) MarshalJSON() ([]byte, error) {
	return json.Marshal(deltaListJSON{Required: d.URLs()})
}

// UnmarshalJSON decodes {"required":[...]}, re-sorting and collapsing
// duplicates.
func (d *DeltaList) UnmarshalJSON(b []byte) error {
	var raw deltaListJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*d = *NewDeltaList(raw.Required...)
	return nil
}

type deltaListJSON struct {
	Required []string `json:"required"`
}
