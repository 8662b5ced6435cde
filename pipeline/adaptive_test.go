package pipeline

import (
	"testing"

	"pgregory.net/rapid"
)

func TestDeriveParams_Table(t *testing.T) {
	tests := []struct {
		name          string
		complexity    Complexity
		queryType     QueryType
		wantTopK      int
		wantWindow    int
		wantMultiHop  bool
	}{
		{"simple definition", ComplexitySimple, QueryTypeDefinition, 2, 1, false},
		{"simple general", ComplexitySimple, QueryTypeGeneral, 3, 1, false},
		{"moderate procedural", ComplexityModerate, QueryTypeProcedural, 5, 3, false},
		{"complex comparison", ComplexityComplex, QueryTypeComparison, 8, 4, true},
		{"complex general", ComplexityComplex, QueryTypeGeneral, 6, 3, true},
		{"simple comparison", ComplexitySimple, QueryTypeComparison, 4, 2, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := DeriveParams(&AnalyzedQuery{
				Complexity: tt.complexity,
				QueryType:  tt.queryType,
			})
			if params.TopK != tt.wantTopK {
				t.Errorf("expected top_k %d, got %d", tt.wantTopK, params.TopK)
			}
			if params.ContextWindow != tt.wantWindow {
				t.Errorf("expected context_window %d, got %d", tt.wantWindow, params.ContextWindow)
			}
			if params.NeedsMultiHop != tt.wantMultiHop {
				t.Errorf("expected needs_multi_hop %v, got %v", tt.wantMultiHop, params.NeedsMultiHop)
			}
		})
	}
}

func TestDeriveParams_NilAndUnknownFallBack(t *testing.T) {
	base := DeriveParams(nil)
	if base.TopK != paramTable[ComplexitySimple][QueryTypeGeneral].topK {
		t.Errorf("expected nil analysis to use simple/general row, got top_k %d", base.TopK)
	}

	unknown := DeriveParams(&AnalyzedQuery{Complexity: "weird", QueryType: "weird"})
	if unknown.TopK != base.TopK || unknown.ContextWindow != base.ContextWindow {
		t.Error("expected unknown classification to fall back to the default row")
	}
}

func TestDeriveParams_FollowUpBump(t *testing.T) {
	plain := DeriveParams(&AnalyzedQuery{Complexity: ComplexitySimple, QueryType: QueryTypeDefinition})
	follow := DeriveParams(&AnalyzedQuery{Complexity: ComplexitySimple, QueryType: QueryTypeDefinition, FollowUp: true})

	if follow.TopK != plain.TopK+followUpBump {
		t.Errorf("expected follow-up top_k %d, got %d", plain.TopK+followUpBump, follow.TopK)
	}
}

func TestDeriveParams_Monotonicity(t *testing.T) {
	complexities := []Complexity{ComplexitySimple, ComplexityModerate, ComplexityComplex}
	queryTypes := []QueryType{QueryTypeDefinition, QueryTypeGeneral, QueryTypeProcedural, QueryTypeComparison}

	rapid.Check(t, func(t *rapid.T) {
		qt := rapid.SampledFrom(queryTypes).Draw(t, "query_type")
		followUp := rapid.Bool().Draw(t, "follow_up")

		prev := RetrievalParams{}
		for i, c := range complexities {
			params := DeriveParams(&AnalyzedQuery{Complexity: c, QueryType: qt, FollowUp: followUp})

			if params.TopK <= 0 || params.TopK > maxTopK {
				t.Fatalf("top_k %d out of range for %s/%s", params.TopK, c, qt)
			}
			if params.ContextWindow <= 0 || params.ContextWindow > maxContextWindow {
				t.Fatalf("context_window %d out of range for %s/%s", params.ContextWindow, c, qt)
			}
			if i > 0 {
				if params.TopK < prev.TopK {
					t.Fatalf("top_k decreased from %d to %d going to %s/%s", prev.TopK, params.TopK, c, qt)
				}
				if params.ContextWindow < prev.ContextWindow {
					t.Fatalf("context_window decreased from %d to %d going to %s/%s", prev.ContextWindow, params.ContextWindow, c, qt)
				}
			}
			prev = params
		}
	})
}
