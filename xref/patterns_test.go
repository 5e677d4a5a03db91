package xref

import "testing"

func findRef(refs []Reference, key string) *Reference {
	for i := range refs {
		if refs[i].CitationKey == key {
			return &refs[i]
		}
	}
	return nil
}

func TestDetectStatutorySections(t *testing.T) {
	text := "Subject to subsection 50.4(8), the trustee acts under s. 69(1) and § 243."
	refs := Detect(text)

	for _, key := range []string{"50.4(8)", "69(1)", "243"} {
		ref := findRef(refs, key)
		if ref == nil {
			t.Fatalf("citation %q not detected in %v", key, refs)
		}
		if ref.Type != RefStatutorySection {
			t.Fatalf("citation %q classified as %q", key, ref.Type)
		}
	}
}

func TestDetectDirective(t *testing.T) {
	refs := Detect("Trustees must follow Directive 11R and directive no. 5 when distributing.")

	ref := findRef(refs, "Directive 11R")
	if ref == nil || ref.Type != RefDirective {
		t.Fatalf("Directive 11R not detected: %v", refs)
	}
	if findRef(refs, "Directive 5") == nil {
		t.Fatalf("directive no. 5 not detected: %v", refs)
	}
}

func TestDetectExternalAct(t *testing.T) {
	refs := Detect("Nothing here limits the Companies' Creditors Arrangement Act.")

	ref := findRef(refs, "Companies' Creditors Arrangement Act")
	if ref == nil {
		t.Fatalf("external act not detected: %v", refs)
	}
	if ref.Type != RefExternalAct {
		t.Fatalf("external act classified as %q", ref.Type)
	}
}

func TestDetectBareActNotMatched(t *testing.T) {
	for _, ref := range Detect("The Act requires notice.") {
		if ref.CitationKey == "Act" || ref.CitationKey == "The Act" {
			t.Fatalf("bare Act should not be a citation: %v", ref)
		}
	}
}

func TestDetectDeduplicates(t *testing.T) {
	refs := Detect("See section 69(1). As noted, s. 69(1) also applies under subsection 69(1).")

	count := 0
	for _, r := range refs {
		if r.CitationKey == "69(1)" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected one deduplicated citation, got %d", count)
	}
}

func TestDetectNothing(t *testing.T) {
	if refs := Detect("plain prose with no citations at all"); len(refs) != 0 {
		t.Fatalf("expected no citations, got %v", refs)
	}
}
