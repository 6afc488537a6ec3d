package retrieval

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"

	"plot-rag-api/internal/domain/entity"
)

func result(id string, t entity.EntityType, sim float64, text string) entity.RetrievalResult {
	return entity.RetrievalResult{
		EntityID:   id,
		EntityType: t,
		Similarity: sim,
		Payload:    entity.VectorMetadata{Title: id, Text: text},
	}
}

func TestAssembleEmptyInput(t *testing.T) {
	got := NewAssembler(0).Assemble(nil, 1000)
	if len(got.Sections) != 0 || len(got.References) != 0 {
		t.Fatalf("expected empty context, got %+v", got)
	}
	if got.Text() != "" {
		t.Fatalf("expected empty text, got %q", got.Text())
	}
}

func TestAssembleSectionOrderAndLabels(t *testing.T) {
	in := []entity.RetrievalResult{
		result("ch1", entity.EntityTypeChapter, 0.9, "the storm"),
		result("w1", entity.EntityTypeWorldBuilding, 0.8, "floating isles"),
		result("c1", entity.EntityTypeCharacter, 0.7, "a reluctant pilot"),
		result("p1", entity.EntityTypeProject, 0.65, "sky pirates"),
	}
	got := NewAssembler(5).Assemble(in, 10000)

	var labels []string
	for _, s := range got.Sections {
		labels = append(labels, s.Label)
	}
	wantLabels := []string{"Project", "Characters", "World Building", "Previous Chapters"}
	if !reflect.DeepEqual(labels, wantLabels) {
		t.Fatalf("labels: got %v, want %v", labels, wantLabels)
	}
	if !reflect.DeepEqual(got.References, []string{"p1", "c1", "w1", "ch1"}) {
		t.Fatalf("references: got %v", got.References)
	}
	if !strings.Contains(got.Text(), "## Characters\n- c1: a reluctant pilot") {
		t.Fatalf("unexpected rendering:\n%s", got.Text())
	}
}

func TestAssembleCapsPerType(t *testing.T) {
	var in []entity.RetrievalResult
	for i := 0; i < 6; i++ {
		in = append(in, result(fmt.Sprintf("ch%d", i), entity.EntityTypeChapter, 0.9-float64(i)/100, "text"))
		in = append(in, result(fmt.Sprintf("c%d", i), entity.EntityTypeCharacter, 0.9-float64(i)/100, "text"))
	}
	got := NewAssembler(2).Assemble(in, 100000)

	counts := map[string]int{}
	for _, s := range got.Sections {
		counts[s.Label] = len(s.Blocks)
	}
	if counts["Previous Chapters"] != ChapterCap {
		t.Fatalf("chapters: got %d, want %d", counts["Previous Chapters"], ChapterCap)
	}
	if counts["Characters"] != 2 {
		t.Fatalf("characters: got %d, want 2", counts["Characters"])
	}
	// 组内按相似度降序
	if got.References[0] != "c0" || got.References[1] != "c1" {
		t.Fatalf("characters should be ordered by similarity, got %v", got.References)
	}
}

func TestAssembleStopsAtFirstOverflow(t *testing.T) {
	in := []entity.RetrievalResult{
		result("c1", entity.EntityTypeCharacter, 0.9, "short"),
		result("c2", entity.EntityTypeCharacter, 0.8, strings.Repeat("long ", 40)),
		result("c3", entity.EntityTypeCharacter, 0.7, "tiny"),
		result("w1", entity.EntityTypeWorldBuilding, 0.9, "x"),
	}
	// c3 单独放得下，但 c2 溢出后必须整体停止
	budget := utf8.RuneCountInString("## Characters\n- c1: short") + 12
	got := NewAssembler(5).Assemble(in, budget)

	if !reflect.DeepEqual(got.References, []string{"c1"}) {
		t.Fatalf("assembly must stop at the first block that does not fit, got %v", got.References)
	}
	if n := utf8.RuneCountInString(got.Text()); n > budget {
		t.Fatalf("text length %d exceeds budget %d", n, budget)
	}
}

func TestAssembleRespectsBudgetExactly(t *testing.T) {
	in := []entity.RetrievalResult{
		result("p1", entity.EntityTypeProject, 0.9, "premise"),
		result("c1", entity.EntityTypeCharacter, 0.9, "hero"),
	}
	full := NewAssembler(5).Assemble(in, 100000)
	exact := utf8.RuneCountInString(full.Text())

	got := NewAssembler(5).Assemble(in, exact)
	if got.Text() != full.Text() {
		t.Fatalf("budget equal to full length should keep everything:\n%q\n%q", got.Text(), full.Text())
	}

	got = NewAssembler(5).Assemble(in, exact-1)
	if len(got.References) != 1 || got.References[0] != "p1" {
		t.Fatalf("one rune short should drop the second section, got %v", got.References)
	}
	if len(got.Sections) != 1 {
		t.Fatalf("empty sections must be omitted, got %d sections", len(got.Sections))
	}
}

func TestAssembleNonPositiveBudget(t *testing.T) {
	in := []entity.RetrievalResult{result("p1", entity.EntityTypeProject, 0.9, "premise")}
	if got := NewAssembler(5).Assemble(in, 0); len(got.Sections) != 0 {
		t.Fatalf("zero budget should yield empty context, got %+v", got)
	}
}

func TestAssembleIsDeterministic(t *testing.T) {
	in := []entity.RetrievalResult{
		result("c2", entity.EntityTypeCharacter, 0.8, "b"),
		result("c1", entity.EntityTypeCharacter, 0.8, "a"),
		result("w1", entity.EntityTypeWorldBuilding, 0.7, "line one\nline two"),
	}
	a := NewAssembler(5).Assemble(in, 500)
	b := NewAssembler(5).Assemble(in, 500)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("assembly must be deterministic")
	}
	if !reflect.DeepEqual(a.References, []string{"c1", "c2", "w1"}) {
		t.Fatalf("tie-break by entity id: got %v", a.References)
	}
	if strings.Contains(a.Text(), "line one\nline two") {
		t.Fatalf("blocks must be compacted to one line")
	}
}
