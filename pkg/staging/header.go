// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package staging

import (
	"encoding/base64"
	"sort"
	"strings"
)

// ParseMetadataHeader decodes an Upload-Metadata header: comma-separated
// pairs of a key and an optional base64 value. Pairs with an undecodable
// value are skipped.
func ParseMetadataHeader(header string) Metadata {
	meta := make(Metadata)

	for _, element := range strings.Split(header, ",") {
		element = strings.TrimSpace(element)
		if element == "" {
			continue
		}

		parts := strings.Fields(element)
		switch len(parts) {
		case 1:
			meta[parts[0]] = ""
		case 2:
			value, err := base64.StdEncoding.DecodeString(parts[1])
			if err != nil {
				continue
			}
			meta[parts[0]] = string(value)
		}
	}

	return meta
}

// SerializeMetadataHeader is the inverse of ParseMetadataHeader. Keys are
// emitted in sorted order.
func SerializeMetadataHeader(meta Metadata) string {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		v := meta[k]
		if v == "" {
			pairs = append(pairs, k)
			continue
		}
		pairs = append(pairs, k+" "+base64.StdEncoding.EncodeToString([]byte(v)))
	}
	return strings.Join(pairs, ",")
}
