package session

import "context"

// GetInstruments wraps public/get_instruments and projects
// result[*].instrument_name.
func (s *Session) GetInstruments(ctx context.Context, currency, kind string) ([]string, error) {
	resp := s.PublicRequest(ctx, "public/get_instruments", map[string]interface{}{
		"currency": currency,
		"kind":     kind,
		"expired":  false,
	})
	if !resp.Success {
		return nil, errString(resp.ErrorMessage)
	}

	items, err := resp.Data.Array()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(items))
	for i := range items {
		name, err := resp.Data.GetIndex(i).Get("instrument_name").String()
		if err == nil && name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

type errString string

func (e errString) Error() string { return string(e) }
