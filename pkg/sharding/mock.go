package sharding

// MockResults overrides Query execution with a pre-supplied value,
// bypassing the connection entirely (spec.md §3/§4.2, S7). Keyed by
// Query.Name(); the empty key "" is reserved for batch-level mocking
// (Batch checks it before running any step).
type MockResults map[string]any

func checkMock[T any](mocks MockResults, name string) (result T, hit bool, err error) {
	if mocks == nil {
		return result, false, nil
	}
	raw, present := mocks[name]
	if !present {
		return result, false, nil
	}
	v, ok := raw.(T)
	if !ok {
		return result, true, ErrMockTypeMismatch(name)
	}
	return v, true, nil
}
