package cache

import "strings"

func BuildKey(method, url string) string {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = "GET"
	}
	if url == "" {
		url = "/"
	}

	var builder strings.Builder
	builder.Grow(len(method) + len(url) + 8)
	builder.WriteString("m=")
	builder.WriteString(method)
	builder.WriteString("|u=")
	builder.WriteString(url)
	return builder.String()
}
