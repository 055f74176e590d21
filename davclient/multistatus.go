package davclient

import (
	"encoding/xml"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"

	"lanpull/transfer"
)

type multistatus struct {
	XMLName   xml.Name   `xml:"DAV: multistatus"`
	Responses []response `xml:"DAV: response"`
}

type response struct {
	Href      string     `xml:"DAV: href"`
	Propstats []propstat `xml:"DAV: propstat"`
}

type propstat struct {
	Status string `xml:"DAV: status"`
	Prop   prop   `xml:"DAV: prop"`
}

type prop struct {
	DisplayName   *string       `xml:"DAV: displayname"`
	ContentLength *string       `xml:"DAV: getcontentlength"`
	ResourceType  *resourceType `xml:"DAV: resourcetype"`
}

type resourceType struct {
	Collection *struct{} `xml:"DAV: collection"`
}

// parseMultistatus extracts the children of dirPath from a PROPFIND response,
// sorted by name. Anything that is not a direct child is dropped. When the entry
// for dirPath itself is not a collection a *transfer.NotDirectoryError is returned.
func parseMultistatus(body []byte, dirPath string) ([]transfer.RemoteItem, error) {
	var ms multistatus
	if err := xml.Unmarshal(body, &ms); err != nil {
		return nil, fmt.Errorf("%w: decode multistatus: %v", transfer.ErrProtocol, err)
	}

	self := cleanDAVPath(dirPath)
	items := make([]transfer.RemoteItem, 0, len(ms.Responses))
	for _, r := range ms.Responses {
		hrefPath, err := hrefToPath(r.Href)
		if err != nil {
			return nil, err
		}
		if hrefPath == self {
			if isDir, length := r.props(); !isDir {
				size, err := parseLength(hrefPath, length)
				if err != nil {
					return nil, err
				}
				return nil, &transfer.NotDirectoryError{Path: hrefPath, Size: size}
			}
			continue
		}
		if path.Dir(hrefPath) != self {
			continue
		}

		isDir, length := r.props()
		item := transfer.RemoteItem{Name: path.Base(hrefPath), IsDirectory: isDir}
		if !isDir {
			if item.Size, err = parseLength(hrefPath, length); err != nil {
				return nil, err
			}
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

// props merges the properties of every successful propstat.
func (r response) props() (isDir bool, length *string) {
	for _, ps := range r.Propstats {
		if !statusOK(ps.Status) {
			continue
		}
		if ps.Prop.ResourceType != nil && ps.Prop.ResourceType.Collection != nil {
			isDir = true
		}
		if ps.Prop.ContentLength != nil {
			length = ps.Prop.ContentLength
		}
	}
	return isDir, length
}

func parseLength(hrefPath string, length *string) (int64, error) {
	if length == nil {
		return 0, fmt.Errorf("%w: %s has no content length", transfer.ErrProtocol, hrefPath)
	}
	size, err := strconv.ParseInt(strings.TrimSpace(*length), 10, 64)
	if err != nil || size < 0 {
		return 0, fmt.Errorf("%w: %s has invalid content length %q", transfer.ErrProtocol, hrefPath, *length)
	}
	return size, nil
}

func hrefToPath(href string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("%w: bad href %q: %v", transfer.ErrProtocol, href, err)
	}
	return cleanDAVPath(u.Path), nil
}

func cleanDAVPath(p string) string {
	return path.Clean("/" + p)
}

// statusOK accepts an empty status as well as "HTTP/1.1 200 OK".
func statusOK(status string) bool {
	fields := strings.Fields(status)
	if len(fields) < 2 {
		return status == ""
	}
	return fields[1] == "200"
}
