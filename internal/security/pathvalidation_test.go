package security

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	tmpDir := t.TempDir()

	masterDir := filepath.Join(tmpDir, "master_images")
	otherDir := filepath.Join(tmpDir, "other")
	if err := os.MkdirAll(masterDir, 0755); err != nil {
		t.Fatalf("Failed to create master directory: %v", err)
	}
	if err := os.MkdirAll(otherDir, 0755); err != nil {
		t.Fatalf("Failed to create other directory: %v", err)
	}

	secretFile := filepath.Join(otherDir, "secret.txt")
	if err := os.WriteFile(secretFile, []byte("secret"), 0644); err != nil {
		t.Fatalf("Failed to create other file: %v", err)
	}

	symlinkPath := filepath.Join(masterDir, "evil-symlink")
	if err := os.Symlink(otherDir, symlinkPath); err != nil {
		t.Fatalf("Failed to create symlink: %v", err)
	}

	tests := []struct {
		name      string
		filePath  string
		safeDir   string
		wantError bool
	}{
		{
			name:      "master image path within master directory",
			filePath:  filepath.Join(masterDir, "program_abc123_20260101_000000.png"),
			safeDir:   masterDir,
			wantError: false,
		},
		{
			name:      "nested master image path",
			filePath:  filepath.Join(masterDir, "nested", "program_abc123_20260101_000000.png"),
			safeDir:   masterDir,
			wantError: false,
		},
		{
			name:      "program id crafted with .. escapes master directory",
			filePath:  filepath.Join(masterDir, "..", "program_abc123_20260101_000000.png"),
			safeDir:   masterDir,
			wantError: true,
		},
		{
			name:      "program id crafted with repeated ..",
			filePath:  "../../../etc/passwd",
			safeDir:   masterDir,
			wantError: true,
		},
		{
			name:      "absolute path outside master directory",
			filePath:  "/etc/passwd",
			safeDir:   masterDir,
			wantError: true,
		},
		{
			name:      "symlink escape attack - following symlink to outside dir",
			filePath:  filepath.Join(symlinkPath, "secret.txt"),
			safeDir:   masterDir,
			wantError: true,
		},
		{
			name:      "symlink escape attack - accessing symlink directly",
			filePath:  symlinkPath,
			safeDir:   masterDir,
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.filePath, tt.safeDir)
			if (err != nil) != tt.wantError {
				t.Errorf("ValidatePathWithinDirectory() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}
