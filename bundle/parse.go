package bundle

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

var dataBlock = regexp.MustCompile(`(?s)window\.aiData\s*=\s*(\{.*?\})\s*;?\s*</script>`)

// ErrNoPageData is returned when a document has no initialization block.
var ErrNoPageData = errors.New("page has no agent data block")

// ParsePage extracts the initialization block from a published page.
func ParsePage(doc []byte) (*PageData, error) {
	m := dataBlock.FindSubmatch(doc)
	if m == nil {
		return nil, ErrNoPageData
	}
	var data PageData
	if err := json.Unmarshal(m[1], &data); err != nil {
		return nil, fmt.Errorf("decode agent data: %w", err)
	}
	return &data, nil
}
