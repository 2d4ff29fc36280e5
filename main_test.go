package main

import (
	"reflect"
	"strings"
	"testing"
)

var parseEnvFileTests = []struct {
	name    string
	input   string
	want    map[string]string
	wantErr bool
}{
	{
		name:  "comments and blank lines are skipped",
		input: "# store\nREINDEX_STORE=sqlite\n\n  ES_CLUSTER_URL=http://u:p@localhost:9200  \n",
		want:  map[string]string{"REINDEX_STORE": "sqlite", "ES_CLUSTER_URL": "http://u:p@localhost:9200"},
	},
	{
		name:  "values may contain =",
		input: "QUERY=a=b",
		want:  map[string]string{"QUERY": "a=b"},
	},
	{name: "missing separator", input: "REINDEX_STORE", wantErr: true},
	{name: "empty key", input: "=sqlite", wantErr: true},
	{name: "key with whitespace", input: "REINDEX STORE=sqlite", wantErr: true},
}

func TestParseEnvFile(t *testing.T) {
	for _, tt := range parseEnvFileTests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEnvFile(strings.NewReader(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("expected error %v got: %v\n", tt.wantErr, err)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("expected %v got: %v\n", tt.want, got)
			}
		})
	}
}
