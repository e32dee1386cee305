package diff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSingleFile(t *testing.T) {
	record := Parse("+++ b/foo.py\n@@ -1,2 +1,2 @@\n+import os\n-import sys\n")

	assert.Equal(t, []string{"foo.py"}, record.ChangedFiles)
	assert.Equal(t, []string{"import os"}, record.AddedLines)
}

func TestParseMultipleFiles(t *testing.T) {
	input := `diff --git a/app/main.py b/app/main.py
--- a/app/main.py
+++ b/app/main.py
@@ -10,3 +10,4 @@
 def run():
+    setup_logging()
     start()
diff --git a/web/client.ts b/web/client.ts
--- a/web/client.ts
+++ b/web/client.ts
@@ -1,1 +1,2 @@
+const retries = 3;
 export {};
`
	record := Parse(input)

	assert.Equal(t, []string{"app/main.py", "web/client.ts"}, record.ChangedFiles)
	assert.Equal(t, []string{"    setup_logging()", "const retries = 3;"}, record.AddedLines)
}

func TestParseHeaderNotCountedAsAddedLine(t *testing.T) {
	record := Parse("+++ b/only_header.go\n")

	assert.Equal(t, []string{"only_header.go"}, record.ChangedFiles)
	assert.Empty(t, record.AddedLines)
	assert.Empty(t, record.QueryText())
}

func TestParseDuplicateHeaders(t *testing.T) {
	record := Parse("+++ b/a.go\n+one\n+++ b/a.go\n+two\n")

	assert.Equal(t, []string{"a.go"}, record.ChangedFiles)
	assert.Equal(t, []string{"one", "two"}, record.AddedLines)
}

func TestParseDeletionOnlyDiff(t *testing.T) {
	input := `--- a/gone.py
+++ /dev/null
@@ -1,2 +0,0 @@
-import os
-print("bye")
`
	record := Parse(input)

	// "+++ /dev/null" is not a b/ header; a pure deletion contributes
	// neither changed files nor added lines.
	assert.Empty(t, record.ChangedFiles)
	assert.Empty(t, record.AddedLines)
	assert.True(t, record.Empty())
}

func TestParseEmptyInput(t *testing.T) {
	record := Parse("")
	assert.True(t, record.Empty())
}

func TestQueryTextPreservesOrder(t *testing.T) {
	record := Parse("+++ b/x.py\n+first\n context\n+second\n+third\n")

	require.Equal(t, []string{"first", "second", "third"}, record.AddedLines)
	assert.Equal(t, "first\nsecond\nthird", record.QueryText())
}
