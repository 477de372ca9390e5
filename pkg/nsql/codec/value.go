package codec

import (
	"encoding/base64"

	"github.com/developer-mesh/nsql-gateway/pkg/nsqlerr"
	"github.com/developer-mesh/nsql-gateway/pkg/nsqlmodel"
)

// ParseHashValue is the inverse of stringify: given the canonical text
// form decoded from a composite physical key and the virtual hash
// attribute's declared type, reconstruct the original AttributeValue.
func ParseHashValue(text string, virtualType nsqlmodel.AttrType) (nsqlmodel.AttributeValue, error) {
	switch virtualType {
	case nsqlmodel.AttrTypeString:
		return nsqlmodel.AttributeValue{Type: nsqlmodel.AttrTypeString, S: text}, nil
	case nsqlmodel.AttrTypeNumber:
		return nsqlmodel.AttributeValue{Type: nsqlmodel.AttrTypeNumber, N: text}, nil
	case nsqlmodel.AttrTypeBinary:
		raw, err := base64.RawStdEncoding.DecodeString(text)
		if err != nil {
			return nsqlmodel.AttributeValue{}, nsqlerr.New(nsqlerr.KindMalformedPhysicalKey, "codec.ParseHashValue", err)
		}
		return nsqlmodel.AttributeValue{Type: nsqlmodel.AttrTypeBinary, B: raw}, nil
	default:
		return nsqlmodel.AttributeValue{}, nsqlerr.New(nsqlerr.KindMalformedPhysicalKey, "codec.ParseHashValue", nil)
	}
}
