package session

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
)

// Role distinguishes the purpose of a supervised session.
type Role string

const (
	// RoleAgent hosts the supervised interactive agent.
	RoleAgent Role = "agent"
	// RoleConsole hosts an operator console session for the same project.
	RoleConsole Role = "console"
)

func (r Role) prefix() string {
	switch r {
	case RoleConsole:
		return "console"
	default:
		return "agent"
	}
}

const maxSlugLen = 12

// Name computes the canonical session name for a project/role pair:
//
//	name = f"{prefix}-{slug}-{hash}"
//
// Identical project paths always produce identical names; names are
// injective over (project, role) up to SHA-256 collision.
func Name(projectPath string, role Role) string {
	slug := slugify(filepath.Base(normalizePath(projectPath)))
	if slug == "" {
		slug = "project"
	}
	return role.prefix() + "-" + slug + "-" + hash8(projectPath)
}

// normalizePath lowercases and forward-slash-normalizes an absolute
// path before hashing, so the same project produces the same name
// regardless of platform path separator or case.
func normalizePath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		abs = p
	}
	abs = filepath.ToSlash(abs)
	return strings.ToLower(abs)
}

func hash8(projectPath string) string {
	sum := sha256.Sum256([]byte(normalizePath(projectPath)))
	return hex.EncodeToString(sum[:])[:8]
}

func slugify(base string) string {
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r - 'A' + 'a')
		}
		if b.Len() >= maxSlugLen {
			break
		}
	}
	return b.String()
}

// Prefix returns the session-name prefix for role ("agent" or "console").
func Prefix(role Role) string {
	return role.prefix()
}
