package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// CatalogEntry is a selectable module or error category.
type CatalogEntry struct {
	Name  string `yaml:"name"`
	Emoji string `yaml:"emoji"`
}

// Catalog lists the modules users register under and the error categories
// they can report.
type Catalog struct {
	Modules         []CatalogEntry `yaml:"modules"`
	ErrorCategories []CatalogEntry `yaml:"error_categories"`
}

const (
	defaultModuleEmoji   = "📁"
	defaultCategoryEmoji = "🔧"
)

// DefaultCatalog mirrors the catalog the bot shipped with.
func DefaultCatalog() Catalog {
	return Catalog{
		Modules: []CatalogEntry{
			{Name: "Модуль экономической эффективности и аналитики", Emoji: "📊"},
			{Name: "Модуль развития цепей поставок и складской логистики", Emoji: "🚛"},
			{Name: "Модуль развития бизнеса 1", Emoji: "💼"},
			{Name: "Модуль развития бизнеса 2", Emoji: "📈"},
			{Name: "Модуль технологии и эффективности", Emoji: "⚙️"},
		},
		ErrorCategories: []CatalogEntry{
			{Name: "Воронка продаж", Emoji: "📊"},
			{Name: "Проблема с карточкой клиента", Emoji: "👤"},
			{Name: "Проблема с карточкой интереса", Emoji: "📋"},
			{Name: "Другое", Emoji: "🔧"},
		},
	}
}

// LoadCatalog reads the catalog at path, or returns the default one when
// path is empty.
func LoadCatalog(path string) (Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog: %w", err)
	}
	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return Catalog{}, fmt.Errorf("parse catalog: %w", err)
	}
	if err := catalog.Validate(); err != nil {
		return Catalog{}, err
	}
	return catalog, nil
}

// Validate rejects empty lists, blank names and duplicates.
func (c Catalog) Validate() error {
	if len(c.Modules) == 0 {
		return errors.New("catalog: no modules")
	}
	if len(c.ErrorCategories) == 0 {
		return errors.New("catalog: no error categories")
	}
	if err := validateEntries("module", c.Modules); err != nil {
		return err
	}
	return validateEntries("error category", c.ErrorCategories)
}

func validateEntries(kind string, entries []CatalogEntry) error {
	seen := make(map[string]struct{}, len(entries))
	for i, entry := range entries {
		name := strings.TrimSpace(entry.Name)
		if name == "" {
			return fmt.Errorf("catalog: %s %d has no name", kind, i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("catalog: duplicate %s %q", kind, name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

// HasModule reports whether name is a current module.
func (c Catalog) HasModule(name string) bool {
	return indexOf(c.Modules, name) >= 0
}

// Module returns the module at index i.
func (c Catalog) Module(i int) (CatalogEntry, bool) {
	if i < 0 || i >= len(c.Modules) {
		return CatalogEntry{}, false
	}
	return c.Modules[i], true
}

// Category returns the error category at index i.
func (c Catalog) Category(i int) (CatalogEntry, bool) {
	if i < 0 || i >= len(c.ErrorCategories) {
		return CatalogEntry{}, false
	}
	return c.ErrorCategories[i], true
}

// ModuleEmoji returns the icon for a module name.
func (c Catalog) ModuleEmoji(name string) string {
	if i := indexOf(c.Modules, name); i >= 0 && c.Modules[i].Emoji != "" {
		return c.Modules[i].Emoji
	}
	return defaultModuleEmoji
}

// CategoryEmoji returns the icon for an error category name.
func (c Catalog) CategoryEmoji(name string) string {
	if i := indexOf(c.ErrorCategories, name); i >= 0 && c.ErrorCategories[i].Emoji != "" {
		return c.ErrorCategories[i].Emoji
	}
	return defaultCategoryEmoji
}

func indexOf(entries []CatalogEntry, name string) int {
	for i, entry := range entries {
		if entry.Name == name {
			return i
		}
	}
	return -1
}
