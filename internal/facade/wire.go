package facade

import "encoding/json"

// listEnvelope is the wire shape for catalog listings.
type listEnvelope struct {
	Data  interface{} `json:"data"`
	Total int         `json:"total"`
}

// pageEnvelope is the wire shape for paged local listings.
type pageEnvelope struct {
	Items  interface{} `json:"items"`
	Total  int         `json:"total"`
	Offset int         `json:"offset"`
	Limit  int         `json:"limit"`
}

func marshal(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// wireList wraps a slice in the {data,total} envelope.
func wireList(data interface{}, total int) (string, int) {
	payload, err := marshal(listEnvelope{Data: data, Total: total})
	if err != nil {
		return "", CodeOperationFailed
	}
	return payload, CodeOK
}

// wirePage wraps a slice in the {items,total,offset,limit} envelope.
func wirePage(items interface{}, total, offset, limit int) (string, int) {
	payload, err := marshal(pageEnvelope{Items: items, Total: total, Offset: offset, Limit: limit})
	if err != nil {
		return "", CodeOperationFailed
	}
	return payload, CodeOK
}

// wireObject marshals a single entity.
func wireObject(v interface{}) (string, int) {
	payload, err := marshal(v)
	if err != nil {
		return "", CodeOperationFailed
	}
	return payload, CodeOK
}

// wireError pairs the result code with an {"error": ...} payload so hosts
// that only read the string channel still see what went wrong.
func wireError(err error, code int) (string, int) {
	payload, mErr := marshal(map[string]string{"error": err.Error()})
	if mErr != nil {
		return "", code
	}
	return payload, code
}
