// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"strings"
	"testing"
	"testing/fstest"
)

func TestOrderedReturnsSortedSQLFiles(t *testing.T) {
	files, err := Ordered()
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	if len(files) == 0 {
		t.Fatal("expected at least one embedded migration")
	}

	for i := 1; i < len(files); i++ {
		if files[i-1].Version >= files[i].Version {
			t.Fatalf("expected sorted migrations, got %s before %s", files[i-1].Name, files[i].Name)
		}
	}
	if files[0].Version != 1 {
		t.Fatalf("expected first migration version 1, got %d", files[0].Version)
	}
	if !strings.Contains(files[0].SQL, "CREATE TABLE IF NOT EXISTS executions") {
		t.Fatalf("expected first migration to create executions table")
	}
}

func TestLoadSortsNumericallyAndSkipsEmpty(t *testing.T) {
	fsys := fstest.MapFS{
		"10_later.sql":   {Data: []byte("SELECT 10;")},
		"2_second.sql":   {Data: []byte("SELECT 2;")},
		"3_blank.sql":    {Data: []byte("  \n")},
		"README.md":      {Data: []byte("docs")},
		"0001_first.sql": {Data: []byte("SELECT 1;")},
	}

	files, err := load(fsys)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	var names []string
	for _, f := range files {
		names = append(names, f.Name)
	}
	if got := strings.Join(names, ","); got != "0001_first.sql,2_second.sql,10_later.sql" {
		t.Fatalf("unexpected order %s", got)
	}
}

func TestLoadRejectsBadNames(t *testing.T) {
	cases := map[string]fstest.MapFS{
		"no prefix":  {"schema.sql": {Data: []byte("SELECT 1;")}},
		"bad prefix": {"abc_schema.sql": {Data: []byte("SELECT 1;")}},
		"duplicate": {
			"1_a.sql":  {Data: []byte("SELECT 1;")},
			"01_b.sql": {Data: []byte("SELECT 1;")},
		},
	}

	for name, fsys := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := load(fsys); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
