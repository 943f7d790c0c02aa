package util

func NewSet() map[string]bool {
	return make(map[string]bool)
}

func ToSet(str []string) map[string]bool {
	set := NewSet()
	for _, s := range str {
		set[s] = true
	}
	return set
}

func AddToSet(set map[string]bool, values ...string) {
	for _, key := range values {
		set[key] = true
	}
}

func RemoveFromSet(set map[string]bool, values ...string) {
	for _, key := range values {
		delete(set, key)
	}
}

func SetValues(set map[string]bool) []string {
	values := make([]string, 0, len(set))
	for k, ok := range set {
		if ok {
			values = append(values, k)
		}
	}
	return values
}

func Difference(first, second map[string]bool) map[string]bool {
	set := NewSet()

	for k := range first {
		if _, ok := second[k]; !ok {
			set[k] = true
		}
	}

	for k := range second {
		if _, ok := first[k]; !ok {
			set[k] = true
		}
	}

	return set
}
