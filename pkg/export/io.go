package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

const (
	manifestFile = "manifest.json"

	decisionsFile       = "sections/decisions.json"
	ledgerFile          = "sections/ledger.json"
	evidenceIndexFile   = "sections/evidence_artifacts.json"
	policyIndexFile     = "sections/policy_snapshots.json"
	riskFile            = "sections/risk.json"
	evidenceBlobDirName = "sections/evidence"
	policyBlobDirName   = "sections/policies"
)

// WriteDir persists a Bundle to dir in the layout spec.md §6 describes:
// a signed manifest.json plus one canonical file per section, with
// evidence/policy content stored as individually addressable blob files
// rather than inlined into their section's metadata.
func WriteDir(b *Bundle, dir string) error {
	if err := os.MkdirAll(filepath.Join(dir, "sections"), 0o755); err != nil {
		return fmt.Errorf("export: create bundle dir: %w", err)
	}

	manifestBytes, err := json.MarshalIndent(b.Manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("export: marshal manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestFile), manifestBytes, 0o644); err != nil {
		return fmt.Errorf("export: write manifest: %w", err)
	}

	writes := []struct {
		path string
		data []byte
	}{
		{decisionsFile, b.Decisions},
		{ledgerFile, b.LedgerEntries},
		{evidenceIndexFile, b.EvidenceIndex},
		{policyIndexFile, b.PolicySnapshots},
	}
	if b.RiskRecords != nil {
		writes = append(writes, struct {
			path string
			data []byte
		}{riskFile, b.RiskRecords})
	}
	for _, w := range writes {
		path := filepath.Join(dir, w.path)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("export: create section dir: %w", err)
		}
		if err := os.WriteFile(path, w.data, 0o644); err != nil {
			return fmt.Errorf("export: write section %s: %w", w.path, err)
		}
	}

	if err := writeBlobDir(dir, evidenceBlobDirName, b.EvidenceBlobs); err != nil {
		return err
	}
	if err := writeBlobDir(dir, policyBlobDirName, b.PolicyBlobs); err != nil {
		return err
	}
	return nil
}

func writeBlobDir(dir, sub string, blobs map[string][]byte) error {
	if len(blobs) == 0 {
		return nil
	}
	full := filepath.Join(dir, sub)
	if err := os.MkdirAll(full, 0o755); err != nil {
		return fmt.Errorf("export: create blob dir %s: %w", sub, err)
	}
	keys := make([]string, 0, len(blobs))
	for k := range blobs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		ext := ".json"
		if sub == evidenceBlobDirName {
			ext = ".bin"
		}
		if err := os.WriteFile(filepath.Join(full, key+ext), blobs[key], 0o644); err != nil {
			return fmt.Errorf("export: write blob %s/%s: %w", sub, key, err)
		}
	}
	return nil
}

// ReadDir loads a Bundle previously written by WriteDir, without
// verifying it — VerifyBundle performs the actual checks.
func ReadDir(dir string) (*Bundle, error) {
	manifestBytes, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return nil, fmt.Errorf("export: read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(manifestBytes, &m); err != nil {
		return nil, fmt.Errorf("export: decode manifest: %w", err)
	}

	b := &Bundle{Manifest: m}

	b.Decisions, err = os.ReadFile(filepath.Join(dir, decisionsFile))
	if err != nil {
		return nil, fmt.Errorf("export: read decisions section: %w", err)
	}
	b.LedgerEntries, err = os.ReadFile(filepath.Join(dir, ledgerFile))
	if err != nil {
		return nil, fmt.Errorf("export: read ledger section: %w", err)
	}
	b.EvidenceIndex, err = os.ReadFile(filepath.Join(dir, evidenceIndexFile))
	if err != nil {
		return nil, fmt.Errorf("export: read evidence_artifacts section: %w", err)
	}
	b.PolicySnapshots, err = os.ReadFile(filepath.Join(dir, policyIndexFile))
	if err != nil {
		return nil, fmt.Errorf("export: read policy_snapshots section: %w", err)
	}
	if data, err := os.ReadFile(filepath.Join(dir, riskFile)); err == nil {
		b.RiskRecords = data
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("export: read risk section: %w", err)
	}

	b.EvidenceBlobs, err = readBlobDir(filepath.Join(dir, evidenceBlobDirName), ".bin")
	if err != nil {
		return nil, err
	}
	b.PolicyBlobs, err = readBlobDir(filepath.Join(dir, policyBlobDirName), ".json")
	if err != nil {
		return nil, err
	}
	return b, nil
}

func readBlobDir(dir, ext string) (map[string][]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("export: list blob dir %s: %w", dir, err)
	}
	out := make(map[string][]byte, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		key := name
		if len(name) > len(ext) && name[len(name)-len(ext):] == ext {
			key = name[:len(name)-len(ext)]
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("export: read blob %s: %w", filepath.Join(dir, name), err)
		}
		out[key] = data
	}
	return out, nil
}
