// Package negotiation identifies this client to the commerce backend and
// checks API version compatibility in both directions: the backend's
// Cart-API response header and the Storefront-Client header UIs send to
// the local API. Both headers are RFC 8941 dictionaries.
package negotiation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dunglas/httpsfv"
)

// Header names.
const (
	ClientHeaderName  = "Storefront-Client"
	CartAPIHeaderName = "Cart-API"
)

// ClientInfo is what a Storefront-Client header carries.
type ClientInfo struct {
	Name    string
	Version string
}

// FormatClientHeader builds the Storefront-Client header value.
// Format: name="cartd", version="1.0.0"
func FormatClientHeader(info ClientInfo) (string, error) {
	if info.Name == "" {
		return "", errors.New("client name is required")
	}

	dict := httpsfv.NewDictionary()
	dict.Add("name", httpsfv.NewItem(info.Name))
	if info.Version != "" {
		dict.Add("version", httpsfv.NewItem(info.Version))
	}

	return httpsfv.Marshal(dict)
}

// ParseClientHeader extracts name and version from a Storefront-Client header.
// Returns error if header is empty, malformed, or missing the name key.
func ParseClientHeader(header string) (ClientInfo, error) {
	dict, err := parseDictionary(ClientHeaderName, header)
	if err != nil {
		return ClientInfo{}, err
	}

	name, err := stringMember(dict, "name")
	if err != nil {
		return ClientInfo{}, fmt.Errorf("invalid %s header: %w", ClientHeaderName, err)
	}

	// version is optional
	version, _ := stringMember(dict, "version")

	return ClientInfo{Name: name, Version: version}, nil
}

// ParseCartAPIHeader extracts the backend API version from a Cart-API header.
//
// Examples:
//   - version="1.2.0"             → 1.2.0
//   - version="2.0.0";deprecated  → 2.0.0 (params ignored)
func ParseCartAPIHeader(header string) (string, error) {
	dict, err := parseDictionary(CartAPIHeaderName, header)
	if err != nil {
		return "", err
	}

	version, err := stringMember(dict, "version")
	if err != nil {
		return "", fmt.Errorf("invalid %s header: %w", CartAPIHeaderName, err)
	}
	return version, nil
}

func parseDictionary(name, header string) (*httpsfv.Dictionary, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, fmt.Errorf("empty %s header", name)
	}

	dict, err := httpsfv.UnmarshalDictionary([]string{header})
	if err != nil {
		return nil, fmt.Errorf("invalid %s header: %w", name, err)
	}
	return dict, nil
}

func stringMember(dict *httpsfv.Dictionary, key string) (string, error) {
	member, ok := dict.Get(key)
	if !ok {
		return "", fmt.Errorf("%s key not found", key)
	}

	item, ok := member.(httpsfv.Item)
	if !ok {
		return "", fmt.Errorf("%s value must be an item", key)
	}

	s, ok := item.Value.(string)
	if !ok {
		return "", fmt.Errorf("%s value must be a string", key)
	}
	return s, nil
}
