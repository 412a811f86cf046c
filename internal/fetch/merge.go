package fetch

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/kilupskalvis/recordfetch/internal/async"
	"github.com/kilupskalvis/recordfetch/internal/metrics"
	"github.com/kilupskalvis/recordfetch/internal/models"
	"github.com/kilupskalvis/recordfetch/internal/serializer"
	"github.com/kilupskalvis/recordfetch/internal/store"
)

// pushNormalized hands a normalized payload to the store in a single call
// and returns the primary records.
func pushNormalized(st *store.Store, payload *models.NormalizedPayload) ([]*store.Record, error) {
	records, err := st.PushNormalized(payload)
	if err != nil {
		return nil, err
	}
	metrics.ObserveMerge(payload.Primary, payload.Len())
	return records, nil
}

// mergeStep decides what to do with an extracted payload before it is
// normalized. Returning skip stops the merge without error.
type mergeStep func(extracted interface{}) (skip bool, err error)

// extractAndMerge runs extract, check, normalize and push as one store
// merge scope. A store destroyed before the push suppresses the result.
func extractAndMerge(st *store.Store, ser serializer.Serializer, kind models.RequestKind, tc *models.TypeClass, payload models.AdapterPayload, id string, check mergeStep) ([]*store.Record, error) {
	var records []*store.Record
	err := st.AdapterRun(func() error {
		extracted, err := ser.Extract(tc, payload, id, kind)
		if err != nil {
			return err
		}
		if check != nil {
			skip, err := check(extracted)
			if err != nil || skip {
				return err
			}
		}
		normalized, err := Normalize(kind, tc, extracted)
		if err != nil {
			return err
		}
		records, err = pushNormalized(st, normalized)
		return err
	})
	if errors.Is(err, store.ErrDestroyed) {
		return nil, async.ErrSuppress
	}
	if err != nil {
		return nil, err
	}
	return records, nil
}

func requireMany(kind models.RequestKind, tc *models.TypeClass) mergeStep {
	return func(extracted interface{}) (bool, error) {
		return false, validateMany(kind, tc, extracted)
	}
}

// skipWithoutData stops the merge when the extracted payload holds no single
// resource: nothing at all, a bare list, or an object that is neither a
// resource nor an envelope with data.
func skipWithoutData(extracted interface{}) (bool, error) {
	switch x := extracted.(type) {
	case nil, []interface{}, []map[string]interface{}:
		return true, nil
	case map[string]interface{}:
		if _, ok := x["id"]; ok {
			return false, nil
		}
		return !truthy(x["data"]), nil
	default:
		return false, nil
	}
}

// isEmptyPayload reports a raw adapter payload carrying no data at all.
func isEmptyPayload(payload models.AdapterPayload) bool {
	switch p := payload.(type) {
	case nil:
		return true
	case []byte:
		return blankJSON(p)
	case json.RawMessage:
		return blankJSON(p)
	case string:
		return blankJSON([]byte(p))
	case *models.Resource:
		return p == nil
	default:
		return false
	}
}

func blankJSON(b []byte) bool {
	t := bytes.TrimSpace(b)
	return len(t) == 0 || strings.EqualFold(string(t), "null")
}
