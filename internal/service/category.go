package service

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/pocketledger/ledgersync/internal/catalog"
	"github.com/pocketledger/ledgersync/internal/color"
	"github.com/pocketledger/ledgersync/internal/domain"
	domainerrors "github.com/pocketledger/ledgersync/internal/errors"
	"github.com/pocketledger/ledgersync/internal/id"
	"github.com/pocketledger/ledgersync/internal/normalize"
	"github.com/pocketledger/ledgersync/internal/store"
	"github.com/pocketledger/ledgersync/internal/store/sqlite"
)

// CategoryService manages the category tree.
type CategoryService struct {
	base
}

// NewCategoryService creates a new category service.
func NewCategoryService(st *sqlite.Store, notifier ChangeNotifier, logger *slog.Logger) *CategoryService {
	return &CategoryService{base: newBase(st, notifier, logger)}
}

// CategoryInput holds the fields of a new category. A non-empty GroupID
// creates a category shared with the group instead of a personal one.
type CategoryInput struct {
	Name     string
	Icon     string
	Color    string
	Type     domain.TransactionType
	ParentID string
	GroupID  string
}

// CategoryUpdate changes the presentation of a category. Nil fields are left
// as they are.
type CategoryUpdate struct {
	Name  *string
	Icon  *string
	Color *string
}

// CategoryNode is a category with its children, as shown in a tree view.
type CategoryNode struct {
	*domain.Category
	Children []*CategoryNode `json:"children,omitempty"`
}

// Create adds a category. The parent, if any, must be visible to the user
// and have the same type. Names are unique among active siblings.
func (s *CategoryService) Create(ctx context.Context, userID string, in CategoryInput) (*domain.Category, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cat := &domain.Category{
		Syncable: domain.Syncable{ID: id.New()},
		Name:     normalize.Name(in.Name),
		Icon:     strings.TrimSpace(in.Icon),
		Color:    color.Or(strings.TrimSpace(in.Color), in.Name),
		Type:     in.Type,
		ParentID: in.ParentID,
		Active:   true,
	}
	if in.GroupID != "" {
		if _, err := s.requireMember(ctx, userID, in.GroupID); err != nil {
			return nil, err
		}
		cat.GroupID = in.GroupID
	} else {
		cat.UserID = userID
	}
	if err := s.validator.Validate(cat); err != nil {
		return nil, err
	}

	if cat.ParentID != "" {
		if _, err := s.loadParent(ctx, userID, cat); err != nil {
			return nil, err
		}
	}
	if err := s.checkSiblingName(ctx, cat); err != nil {
		return nil, err
	}

	if err := s.store.Categories.Insert(ctx, cat); err != nil {
		return nil, err
	}
	s.notifier.OnMutation(ctx)

	s.logger.Info("category created",
		"category_id", cat.ID,
		"user_id", userID,
		"type", cat.Type,
		"parent_id", cat.ParentID,
	)
	return cat, nil
}

// Get returns a category visible to the user.
func (s *CategoryService) Get(ctx context.Context, userID, categoryID string) (*domain.Category, error) {
	cat, err := s.store.Categories.Get(ctx, categoryID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, userID, cat); err != nil {
		return nil, err
	}
	return cat, nil
}

// Update renames or restyles a category.
func (s *CategoryService) Update(ctx context.Context, userID, categoryID string, upd CategoryUpdate) (*domain.Category, error) {
	cat, err := s.Get(ctx, userID, categoryID)
	if err != nil {
		return nil, err
	}
	if upd.Name != nil {
		probe := *cat
		probe.Name = normalize.Name(*upd.Name)
		if err := s.checkSiblingName(ctx, &probe); err != nil {
			return nil, err
		}
	}

	updated, err := s.store.Categories.Update(ctx, categoryID, func(c *domain.Category) error {
		if upd.Name != nil {
			c.Name = normalize.Name(*upd.Name)
		}
		if upd.Icon != nil {
			c.Icon = strings.TrimSpace(*upd.Icon)
		}
		if upd.Color != nil {
			c.Color = strings.TrimSpace(*upd.Color)
		}
		return s.validator.Validate(c)
	})
	if err != nil {
		return nil, err
	}
	s.notifier.OnMutation(ctx)
	return updated, nil
}

// SetParent moves a category under parentID, or to the root when parentID
// is empty. A move that would make the category its own ancestor fails with
// ConstraintViolation and leaves both records untouched.
func (s *CategoryService) SetParent(ctx context.Context, userID, categoryID, parentID string) (*domain.Category, error) {
	cat, err := s.Get(ctx, userID, categoryID)
	if err != nil {
		return nil, err
	}
	if cat.ParentID == parentID {
		return cat, nil
	}

	if parentID != "" {
		probe := *cat
		probe.ParentID = parentID
		if _, err := s.loadParent(ctx, userID, &probe); err != nil {
			return nil, err
		}
		if err := s.checkAcyclic(ctx, categoryID, parentID); err != nil {
			return nil, err
		}
	}

	updated, err := s.store.Categories.Update(ctx, categoryID, func(c *domain.Category) error {
		c.ParentID = parentID
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifier.OnMutation(ctx)

	s.logger.Info("category moved",
		"category_id", categoryID,
		"parent_id", parentID,
	)
	return updated, nil
}

// SetActive hides or shows a category in pickers without deleting it.
func (s *CategoryService) SetActive(ctx context.Context, userID, categoryID string, active bool) (*domain.Category, error) {
	cat, err := s.Get(ctx, userID, categoryID)
	if err != nil {
		return nil, err
	}
	if cat.Active == active {
		return cat, nil
	}

	updated, err := s.store.Categories.Update(ctx, categoryID, func(c *domain.Category) error {
		c.Active = active
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifier.OnMutation(ctx)
	return updated, nil
}

// Delete soft-deletes a category. Its children move up to its parent so the
// tree stays connected.
func (s *CategoryService) Delete(ctx context.Context, userID, categoryID string) error {
	cat, err := s.Get(ctx, userID, categoryID)
	if err != nil {
		return err
	}

	children, err := s.store.Categories.Query(ctx, store.Query[domain.Category]{
		Where: func(c *domain.Category) bool { return c.ParentID == categoryID },
	})
	if err != nil {
		return err
	}
	edits := make([]sqlite.Edit[domain.Category], 0, len(children)+1)
	for _, child := range children {
		edits = append(edits, sqlite.Edit[domain.Category]{
			ID: child.ID,
			Mutate: func(c *domain.Category) error {
				c.ParentID = cat.ParentID
				return nil
			},
		})
	}
	edits = append(edits, sqlite.Edit[domain.Category]{ID: categoryID, Delete: true})

	if _, err := s.store.Categories.Batch(ctx, edits); err != nil {
		return err
	}
	s.notifier.OnMutation(ctx)

	s.logger.Info("category deleted",
		"category_id", categoryID,
		"reparented", len(children),
	)
	return nil
}

// List returns the categories visible to the user in insertion order.
func (s *CategoryService) List(ctx context.Context, userID string) ([]*domain.Category, error) {
	scope, err := s.store.ScopeFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.store.Categories.Query(ctx, store.Query[domain.Category]{Scope: scope})
}

// Watch returns a live query over the user's categories.
func (s *CategoryService) Watch(ctx context.Context, userID string) (*store.LiveQuery[domain.Category], error) {
	scope, err := s.store.ScopeFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.store.Categories.Watch(ctx, store.Query[domain.Category]{Scope: scope})
}

// Tree returns the user's categories as a forest sorted by name. A category
// whose parent is not visible is shown as a root.
func (s *CategoryService) Tree(ctx context.Context, userID string) ([]*CategoryNode, error) {
	cats, err := s.List(ctx, userID)
	if err != nil {
		return nil, err
	}

	nodes := make(map[string]*CategoryNode, len(cats))
	for _, c := range cats {
		nodes[c.ID] = &CategoryNode{Category: c}
	}

	var roots []*CategoryNode
	for _, c := range cats {
		node := nodes[c.ID]
		if parent, ok := nodes[c.ParentID]; ok && c.ParentID != c.ID {
			parent.Children = append(parent.Children, node)
			continue
		}
		roots = append(roots, node)
	}

	sortNodes(roots)
	return roots, nil
}

// SeedDefaults creates the default category tree for userID unless the user
// already has personal categories, deleted ones included. It returns the
// number of categories created.
func (s *CategoryService) SeedDefaults(ctx context.Context, userID string) (int, error) {
	existing, err := s.store.Categories.Query(ctx, store.Query[domain.Category]{
		Scope:      domain.ScopeFilter{UserID: userID},
		Tombstones: store.IncludeDeleted,
		Where:      func(c *domain.Category) bool { return c.GroupID == "" },
		Limit:      1,
	})
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		return 0, nil
	}

	n, err := s.seedTree(ctx, userID, catalog.DefaultCategories, "")
	if err != nil {
		return n, err
	}
	s.logger.Info("default categories seeded", "user_id", userID, "count", n)
	return n, nil
}

func (s *CategoryService) seedTree(ctx context.Context, userID string, seeds []catalog.CategorySeed, parentID string) (int, error) {
	n := 0
	for _, seed := range seeds {
		cat, err := s.Create(ctx, userID, CategoryInput{
			Name:     seed.Name,
			Icon:     seed.Icon,
			Type:     seed.Type,
			ParentID: parentID,
		})
		if err != nil {
			return n, domainerrors.Wrapf(err, domainerrors.CodeOf(err), "seed category %s", seed.Name)
		}
		n++

		if len(seed.Children) > 0 {
			c, err := s.seedTree(ctx, userID, seed.Children, cat.ID)
			n += c
			if err != nil {
				return n, err
			}
		}
	}
	return n, nil
}

func sortNodes(nodes []*CategoryNode) {
	slices.SortFunc(nodes, func(a, b *CategoryNode) int {
		return strings.Compare(normalize.Key(a.Name), normalize.Key(b.Name))
	})
	for _, n := range nodes {
		sortNodes(n.Children)
	}
}

func (s *CategoryService) loadParent(ctx context.Context, userID string, cat *domain.Category) (*domain.Category, error) {
	if cat.ParentID == cat.ID {
		return nil, domainerrors.ConstraintViolation("a category cannot be its own parent")
	}
	parent, err := s.store.Categories.Get(ctx, cat.ParentID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, userID, parent); err != nil {
		return nil, err
	}
	if parent.Type != cat.Type {
		return nil, domainerrors.Validationf("parent category has type %s, want %s", parent.Type, cat.Type)
	}
	return parent, nil
}

// checkAcyclic walks the ancestors of parentID and fails if categoryID is
// among them. The walk is bounded by the number of stored categories so a
// corrupt chain cannot loop forever.
func (s *CategoryService) checkAcyclic(ctx context.Context, categoryID, parentID string) error {
	all, err := s.store.Categories.Query(ctx, store.Query[domain.Category]{Tombstones: store.IncludeDeleted})
	if err != nil {
		return err
	}
	parents := make(map[string]string, len(all))
	for _, c := range all {
		parents[c.ID] = c.ParentID
	}

	cur := parentID
	for hops := 0; cur != ""; hops++ {
		if cur == categoryID {
			return domainerrors.ConstraintViolationf("moving category %s under %s would create a cycle", categoryID, parentID)
		}
		if hops > len(all) {
			return domainerrors.ConstraintViolationf("ancestor chain of category %s does not terminate", parentID)
		}
		cur = parents[cur]
	}
	return nil
}

func (s *CategoryService) checkSiblingName(ctx context.Context, cat *domain.Category) error {
	key := normalize.Key(cat.Name)
	clash, err := s.store.Categories.Query(ctx, store.Query[domain.Category]{
		Scope: domain.ScopeFilter{UserID: cat.UserID, GroupIDs: nonEmpty(cat.GroupID)},
		Where: func(c *domain.Category) bool {
			return c.ID != cat.ID &&
				c.Active &&
				c.UserID == cat.UserID &&
				c.GroupID == cat.GroupID &&
				c.ParentID == cat.ParentID &&
				normalize.Key(c.Name) == key
		},
		Limit: 1,
	})
	if err != nil {
		return err
	}
	if len(clash) > 0 {
		return domainerrors.ConstraintViolationf("a category named %q already exists here", cat.Name)
	}
	return nil
}

func nonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}
