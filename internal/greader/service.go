package greader

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/dkoeder/gleaner/internal/aggregate"
	"github.com/dkoeder/gleaner/internal/models"
)

// Page and token limits of the protocol surface.
const (
	maxIDsPage      = 10000
	maxContentsPage = 1000
	defaultPage     = 20

	// unreadMax is the display cap reader clients apply to unread counts.
	unreadMax = 150

	// authTokenLength is the hex length of a ClientLogin token.
	authTokenLength = 64
	// sessionTokenLength is the length of the short-lived tokens minted by
	// the token endpoint.
	sessionTokenLength = 57
	sessionTokenTTL    = 30 * time.Minute
)

// Errors the transport maps onto HTTP statuses.
var (
	// ErrBadAuth means ClientLogin credentials did not check out.
	ErrBadAuth = errors.New("bad authentication")
	// ErrForbidden means the user may not perform the action on this feed.
	ErrForbidden = errors.New("forbidden")
	// ErrBadRequest means the request parameters are unusable.
	ErrBadRequest = errors.New("bad request")
)

// Stores bundles the persistence the reader services work on.
type Stores struct {
	Users    *models.UserStore
	Feeds    *models.FeedStore
	Groups   *models.FeedGroupStore
	Articles *models.ArticleStore
	States   *models.StateStore
	Streams  *models.StreamStore
	Tokens   *models.ReaderTokenStore
}

// Service implements the reader protocol operations over the stores. The
// registry supplies per-adapter site URLs for subscriptions and item origins.
type Service struct {
	stores   Stores
	registry *aggregate.Registry
	cache    *unreadCache
	now      func() time.Time
}

// NewService creates a Service. now defaults to time.Now when nil.
func NewService(stores Stores, registry *aggregate.Registry, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		stores:   stores,
		registry: registry,
		cache:    newUnreadCache(),
		now:      now,
	}
}

// Login verifies ClientLogin credentials and mints a persistent auth token.
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	user, err := s.stores.Users.GetByUsername(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return "", ErrBadAuth
		}
		return "", fmt.Errorf("login: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return "", ErrBadAuth
	}

	token, err := randomToken(authTokenLength)
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	if err := s.stores.Tokens.Create(ctx, &models.ReaderToken{Token: token, UserID: user.ID}); err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	return token, nil
}

// MintToken returns a fresh short-lived session token. Clients request one
// before each batch of write calls.
func (s *Service) MintToken(ctx context.Context, userID uuid.UUID) (string, error) {
	token, err := randomToken(sessionTokenLength)
	if err != nil {
		return "", fmt.Errorf("mint token: %w", err)
	}
	expires := s.now().Add(sessionTokenTTL)
	if err := s.stores.Tokens.Create(ctx, &models.ReaderToken{
		Token:     token,
		UserID:    userID,
		ExpiresAt: &expires,
	}); err != nil {
		return "", fmt.Errorf("mint token: %w", err)
	}
	return token, nil
}

// randomToken returns n hex characters from crypto/rand.
func randomToken(n int) (string, error) {
	buf := make([]byte, (n+1)/2)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("random token: %w", err)
	}
	return hex.EncodeToString(buf)[:n], nil
}

// UserInfo is the user-info endpoint payload.
type UserInfo struct {
	UserID        string `json:"userId"`
	UserName      string `json:"userName"`
	UserProfileID string `json:"userProfileId"`
	UserEmail     string `json:"userEmail"`
}

// UserInfoFor shapes the user-info response for one user.
func UserInfoFor(user *models.User) UserInfo {
	return UserInfo{
		UserID:        user.ID.String(),
		UserName:      user.Username,
		UserProfileID: user.ID.String(),
		UserEmail:     user.Email,
	}
}

// Category is one label attached to a subscription.
type Category struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Subscription is one feed in the subscription list.
type Subscription struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Categories []Category `json:"categories"`
	URL        string     `json:"url"`
	HTMLURL    string     `json:"htmlUrl"`
	IconURL    string     `json:"iconUrl,omitempty"`
}

// Subscriptions lists the user's accessible feeds: their own plus shared,
// enabled only.
func (s *Service) Subscriptions(ctx context.Context, user *models.User) ([]Subscription, error) {
	feeds, err := s.stores.Feeds.ListAccessible(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("subscriptions: %w", err)
	}
	groupNames, err := s.groupNames(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	subs := make([]Subscription, 0, len(feeds))
	for i := range feeds {
		f := &feeds[i]
		siteURL := s.siteURL(f)
		sub := Subscription{
			ID:         FeedStreamID(f.ID),
			Title:      f.Name,
			Categories: feedCategories(f, groupNames),
			URL:        siteURL,
			HTMLURL:    siteURL,
		}
		if f.IconType != "" {
			sub.IconURL = "/api/feeds/" + strconv.FormatInt(f.ID, 10) + "/icon"
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// groupNames maps the user's group IDs to their label names.
func (s *Service) groupNames(ctx context.Context, userID uuid.UUID) (map[int64]string, error) {
	groups, err := s.stores.Groups.ListByOwner(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	names := make(map[int64]string, len(groups))
	for _, g := range groups {
		names[g.ID] = g.Name
	}
	return names, nil
}

// siteURL derives a feed's site link through its adapter.
func (s *Service) siteURL(f *models.Feed) string {
	if adapter, ok := s.registry.Get(f.AggregatorTag); ok {
		return adapter.SourceURL(f)
	}
	return f.Identifier
}

// feedCategories builds the label list of a feed: its explicit group plus the
// synthetic label of its aggregator type.
func feedCategories(f *models.Feed, groupNames map[int64]string) []Category {
	cats := make([]Category, 0, 2)
	if f.GroupID != nil {
		if name, ok := groupNames[*f.GroupID]; ok {
			cats = append(cats, Category{ID: labelPrefix + name, Label: name})
		}
	}
	if label, ok := syntheticLabels[f.AggregatorTag]; ok {
		cats = append(cats, Category{ID: labelPrefix + label, Label: label})
	}
	return cats
}

// SubscriptionEdit is one subscription/edit request.
type SubscriptionEdit struct {
	StreamID     string
	Action       string
	Title        string
	AddLabels    []string
	RemoveLabels []string
}

// EditSubscription applies a subscription/edit action. Unsubscribe is a soft
// delete (enabled=false) and works only for the feed's owner; subscribe
// re-enables; edit renames and moves the feed between the user's groups.
func (s *Service) EditSubscription(ctx context.Context, user *models.User, edit SubscriptionEdit) error {
	stream, err := ParseStream(edit.StreamID)
	if err != nil || stream.Kind != StreamFeed {
		return fmt.Errorf("%w: subscription edit needs a feed stream", ErrBadRequest)
	}
	feed, err := s.stores.Feeds.GetByID(ctx, stream.FeedID)
	if err != nil {
		return err
	}
	if !feed.Shared() && !feed.OwnedBy(user.ID) {
		return fmt.Errorf("feed %d: %w", feed.ID, models.ErrNotFound)
	}

	switch edit.Action {
	case "subscribe":
		return s.stores.Feeds.SetEnabled(ctx, feed.ID, true)
	case "unsubscribe":
		if !feed.OwnedBy(user.ID) {
			return fmt.Errorf("unsubscribe feed %d: %w", feed.ID, ErrForbidden)
		}
		return s.stores.Feeds.SetEnabled(ctx, feed.ID, false)
	case "edit":
		return s.applySubscriptionEdit(ctx, user, feed, edit)
	default:
		return fmt.Errorf("%w: unknown action %q", ErrBadRequest, edit.Action)
	}
}

func (s *Service) applySubscriptionEdit(ctx context.Context, user *models.User, feed *models.Feed, edit SubscriptionEdit) error {
	if t := strings.TrimSpace(edit.Title); t != "" && t != feed.Name {
		if err := s.stores.Feeds.Rename(ctx, feed.ID, t); err != nil {
			return err
		}
	}

	for _, raw := range edit.AddLabels {
		label := trimLabel(raw)
		if label == "" {
			continue
		}
		group, err := s.stores.Groups.GetOrCreate(ctx, user.ID, label)
		if err != nil {
			return err
		}
		if err := s.stores.Feeds.SetGroup(ctx, feed.ID, &group.ID); err != nil {
			return err
		}
		feed.GroupID = &group.ID
	}

	for _, raw := range edit.RemoveLabels {
		label := trimLabel(raw)
		if label == "" || feed.GroupID == nil {
			continue
		}
		group, err := s.stores.Groups.GetByName(ctx, user.ID, label)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				continue // removing a label the feed never had is a no-op
			}
			return err
		}
		if group.ID != *feed.GroupID {
			continue
		}
		if err := s.stores.Feeds.SetGroup(ctx, feed.ID, nil); err != nil {
			return err
		}
		feed.GroupID = nil
	}
	return nil
}

// Tag is one entry of the tag list.
type Tag struct {
	ID string `json:"id"`
}

// Tags lists the fixed state tags plus one label per user group.
func (s *Service) Tags(ctx context.Context, user *models.User) ([]Tag, error) {
	groups, err := s.stores.Groups.ListByOwner(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("tags: %w", err)
	}

	tags := []Tag{
		{ID: StateReadingList},
		{ID: StateRead},
		{ID: StateStarred},
		{ID: StateBroadcast},
	}
	for _, g := range groups {
		tags = append(tags, Tag{ID: labelPrefix + g.Name})
	}
	return tags, nil
}

// EditTags toggles read/starred state on a batch of items. Add and remove
// carry state stream-IDs; unsupported tags are ignored the way the protocol
// expects. Every write invalidates the caller's unread-count cache.
func (s *Service) EditTags(ctx context.Context, user *models.User, ids []int64, add, remove []string) error {
	if len(ids) == 0 {
		return fmt.Errorf("%w: no item ids", ErrBadRequest)
	}

	apply := func(tag string, value bool) error {
		switch normalizeUserSegment(strings.TrimSpace(tag)) {
		case StateRead:
			return s.stores.States.SetRead(ctx, user.ID, ids, value)
		case StateKeptUnread:
			return s.stores.States.SetRead(ctx, user.ID, ids, !value)
		case StateStarred:
			return s.stores.States.SetStarred(ctx, user.ID, ids, value)
		}
		return nil
	}

	for _, tag := range add {
		if err := apply(tag, true); err != nil {
			return fmt.Errorf("edit tags: %w", err)
		}
	}
	for _, tag := range remove {
		if err := apply(tag, false); err != nil {
			return fmt.Errorf("edit tags: %w", err)
		}
	}

	s.cache.invalidate(user.ID)
	return nil
}

// MarkAllRead marks every article of a stream as read, optionally bounded to
// articles dated at or before olderThan.
func (s *Service) MarkAllRead(ctx context.Context, user *models.User, streamID string, olderThan *time.Time) error {
	stream, err := ParseStream(streamID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	filter, ok, err := s.resolve(ctx, user.ID, stream)
	if err != nil {
		return err
	}
	if ok {
		filter.MaxDate = olderThan
		if _, err := s.stores.Streams.MarkAllRead(ctx, filter); err != nil {
			return err
		}
	}
	s.cache.invalidate(user.ID)
	return nil
}

// resolve turns a parsed stream into the storage filter for one user. The
// filter carries the access clause (enabled, owned-or-shared) in every case;
// callers must not reapply it. ok=false means the stream cannot match
// anything (a label the user does not have).
func (s *Service) resolve(ctx context.Context, userID uuid.UUID, stream Stream) (models.StreamFilter, bool, error) {
	filter := models.StreamFilter{UserID: userID}

	switch stream.Kind {
	case StreamFeed:
		id := stream.FeedID
		filter.FeedID = &id
	case StreamStarred:
		filter.RequireStars = true
	case StreamRead:
		filter.RequireRead = true
	case StreamLabel:
		if tag, ok := aggregatorForLabel(stream.Label); ok {
			filter.AggregatorTag = &tag
			break
		}
		group, err := s.stores.Groups.GetByName(ctx, userID, stream.Label)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return filter, false, nil
			}
			return filter, false, err
		}
		filter.GroupID = &group.ID
	}
	return filter, true, nil
}

// UnreadCount is the per-feed unread tally of the unread-count endpoint.
type UnreadCount struct {
	ID     string `json:"id"`
	Count  int    `json:"count"`
	Newest string `json:"newestItemTimestampUsec"`
}

// UnreadPage is the unread-count response.
type UnreadPage struct {
	Max          int           `json:"max"`
	UnreadCounts []UnreadCount `json:"unreadcounts"`
}

// UnreadCounts tallies unread articles per accessible feed. Responses are
// cached for a short TTL per (user, includeEmpty); every tag write clears the
// cache, so counts converge quickly after edits.
func (s *Service) UnreadCounts(ctx context.Context, user *models.User, includeEmpty bool) (UnreadPage, error) {
	key := unreadKey{user: user.ID, includeEmpty: includeEmpty}
	if counts, ok := s.cache.get(key, s.now()); ok {
		return UnreadPage{Max: unreadMax, UnreadCounts: counts}, nil
	}

	tallies, err := s.stores.Streams.UnreadCounts(ctx, user.ID)
	if err != nil {
		return UnreadPage{}, fmt.Errorf("unread counts: %w", err)
	}

	counts := make([]UnreadCount, 0, len(tallies))
	seen := make(map[int64]bool, len(tallies))
	for _, t := range tallies {
		seen[t.FeedID] = true
		counts = append(counts, UnreadCount{
			ID:     FeedStreamID(t.FeedID),
			Count:  t.Count,
			Newest: strconv.FormatInt(t.Newest.UnixMicro(), 10),
		})
	}

	if includeEmpty {
		feeds, err := s.stores.Feeds.ListAccessible(ctx, user.ID)
		if err != nil {
			return UnreadPage{}, fmt.Errorf("unread counts: %w", err)
		}
		for _, f := range feeds {
			if !seen[f.ID] {
				counts = append(counts, UnreadCount{ID: FeedStreamID(f.ID), Count: 0, Newest: "0"})
			}
		}
	}

	s.cache.set(key, counts, s.now())
	return UnreadPage{Max: unreadMax, UnreadCounts: counts}, nil
}

// StreamQuery carries the common stream read parameters.
type StreamQuery struct {
	StreamID     string
	ItemIDs      []int64 // non-empty means a by-ID lookup instead of a stream scan
	Count        int
	Continuation int
	MinTime      *time.Time // ot
	ExcludeTag   string     // xt
	IncludeTag   string     // it
	Ascending    bool       // r=o
}

// ItemRef is one entry of a stream/items/ids response; the ID is decimal.
type ItemRef struct {
	ID string `json:"id"`
}

// IDPage is the stream/items/ids response.
type IDPage struct {
	ItemRefs     []ItemRef `json:"itemRefs"`
	Continuation string    `json:"continuation,omitempty"`
}

// StreamItemIDs runs the lightweight sync query: ordered article IDs only.
func (s *Service) StreamItemIDs(ctx context.Context, user *models.User, q StreamQuery) (IDPage, error) {
	stream, err := ParseStream(q.StreamID)
	if err != nil {
		return IDPage{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	filter, ok, err := s.resolve(ctx, user.ID, stream)
	if err != nil {
		return IDPage{}, err
	}
	if !ok {
		return IDPage{ItemRefs: []ItemRef{}}, nil
	}

	applyTagConstraints(&filter, q.IncludeTag, q.ExcludeTag)
	filter.MinDate = q.MinTime
	filter.Ascending = q.Ascending
	filter.Limit = clampCount(q.Count, maxIDsPage)
	filter.Offset = q.Continuation

	items, err := s.stores.Streams.SelectIDs(ctx, filter)
	if err != nil {
		return IDPage{}, err
	}

	page := IDPage{ItemRefs: make([]ItemRef, 0, len(items))}
	for _, it := range items {
		page.ItemRefs = append(page.ItemRefs, ItemRef{ID: strconv.FormatInt(it.ID, 10)})
	}
	if len(items) == filter.Limit {
		page.Continuation = strconv.Itoa(filter.Offset + filter.Limit)
	}
	return page, nil
}

// Link is a canonical or alternate item link.
type Link struct {
	Href string `json:"href"`
	Type string `json:"type,omitempty"`
}

// ItemOrigin names the feed an item came from.
type ItemOrigin struct {
	StreamID string `json:"streamId"`
	Title    string `json:"title"`
	HTMLURL  string `json:"htmlUrl"`
}

// ItemBody wraps item HTML the way the protocol expects.
type ItemBody struct {
	Direction string `json:"direction"`
	Content   string `json:"content"`
}

// Item is one article in a stream/contents response.
type Item struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Author        string     `json:"author,omitempty"`
	Published     int64      `json:"published"`
	Updated       int64      `json:"updated"`
	CrawlTimeMsec string     `json:"crawlTimeMsec"`
	TimestampUsec string     `json:"timestampUsec"`
	Categories    []string   `json:"categories"`
	Canonical     []Link     `json:"canonical,omitempty"`
	Alternate     []Link     `json:"alternate,omitempty"`
	Origin        ItemOrigin `json:"origin"`
	Summary       ItemBody   `json:"summary"`
	Content       ItemBody   `json:"content"`
}

// StreamPage is a stream/contents response.
type StreamPage struct {
	ID           string `json:"id"`
	Updated      int64  `json:"updated"`
	Items        []Item `json:"items"`
	Continuation string `json:"continuation,omitempty"`
}

// StreamContents returns full items, either for a stream scan or for an
// explicit item-ID batch. By-ID lookups are still scoped to feeds the user
// may access.
func (s *Service) StreamContents(ctx context.Context, user *models.User, q StreamQuery) (StreamPage, error) {
	stream, err := ParseStream(q.StreamID)
	if err != nil {
		return StreamPage{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}

	feeds, err := s.accessibleFeeds(ctx, user.ID)
	if err != nil {
		return StreamPage{}, err
	}
	groupNames, err := s.groupNames(ctx, user.ID)
	if err != nil {
		return StreamPage{}, err
	}

	page := StreamPage{
		ID:      stream.ID(),
		Updated: s.now().Unix(),
		Items:   []Item{},
	}

	var articles []models.Article
	limit := clampCount(q.Count, maxContentsPage)
	if len(q.ItemIDs) > 0 {
		itemIDs := q.ItemIDs
		if len(itemIDs) > maxContentsPage {
			itemIDs = itemIDs[:maxContentsPage]
		}
		articles, err = s.stores.Articles.ListByIDs(ctx, itemIDs)
		if err != nil {
			return StreamPage{}, err
		}
		kept := articles[:0]
		for _, a := range articles {
			if _, ok := feeds[a.FeedID]; ok {
				kept = append(kept, a)
			}
		}
		articles = kept
	} else {
		filter, ok, err := s.resolve(ctx, user.ID, stream)
		if err != nil {
			return StreamPage{}, err
		}
		if !ok {
			return page, nil
		}
		applyTagConstraints(&filter, q.IncludeTag, q.ExcludeTag)
		filter.MinDate = q.MinTime
		filter.Ascending = q.Ascending
		filter.Limit = limit
		filter.Offset = q.Continuation

		articles, err = s.stores.Streams.SelectArticles(ctx, filter)
		if err != nil {
			return StreamPage{}, err
		}
		if len(articles) == limit {
			page.Continuation = strconv.Itoa(q.Continuation + limit)
		}
	}

	ids := make([]int64, len(articles))
	for i, a := range articles {
		ids[i] = a.ID
	}
	states, err := s.stores.States.GetForArticles(ctx, user.ID, ids)
	if err != nil {
		return StreamPage{}, err
	}

	for i := range articles {
		a := &articles[i]
		feed := feeds[a.FeedID]
		if feed == nil {
			continue
		}
		page.Items = append(page.Items, s.buildItem(a, feed, states[a.ID], groupNames))
	}
	return page, nil
}

// accessibleFeeds maps feed ID to feed for everything the user may read.
func (s *Service) accessibleFeeds(ctx context.Context, userID uuid.UUID) (map[int64]*models.Feed, error) {
	feeds, err := s.stores.Feeds.ListAccessible(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list feeds: %w", err)
	}
	byID := make(map[int64]*models.Feed, len(feeds))
	for i := range feeds {
		byID[feeds[i].ID] = &feeds[i]
	}
	return byID, nil
}

// buildItem shapes one article into the protocol's item form.
func (s *Service) buildItem(a *models.Article, feed *models.Feed, state models.ArticleState, groupNames map[int64]string) Item {
	item := Item{
		ID:            LongItemID(a.ID),
		Title:         a.Name,
		Author:        a.Author,
		Published:     a.Date.Unix(),
		Updated:       a.UpdatedAt.Unix(),
		CrawlTimeMsec: strconv.FormatInt(a.CreatedAt.UnixMilli(), 10),
		TimestampUsec: strconv.FormatInt(a.Date.UnixMicro(), 10),
		Categories:    itemCategories(feed, state, groupNames),
		Origin: ItemOrigin{
			StreamID: FeedStreamID(feed.ID),
			Title:    feed.Name,
			HTMLURL:  s.siteURL(feed),
		},
		Summary: ItemBody{Direction: "ltr", Content: a.Content},
		Content: ItemBody{Direction: "ltr", Content: a.Content},
	}
	if strings.HasPrefix(a.Identifier, "http://") || strings.HasPrefix(a.Identifier, "https://") {
		item.Canonical = []Link{{Href: a.Identifier}}
		item.Alternate = []Link{{Href: a.Identifier, Type: "text/html"}}
	}
	return item
}

// itemCategories builds an item's tag list: the reading list, read/starred
// state, and the labels of its feed.
func itemCategories(feed *models.Feed, state models.ArticleState, groupNames map[int64]string) []string {
	cats := []string{StateReadingList}
	if state.Read {
		cats = append(cats, StateRead)
	}
	if state.Starred {
		cats = append(cats, StateStarred)
	}
	for _, c := range feedCategories(feed, groupNames) {
		cats = append(cats, c.ID)
	}
	return cats
}

// applyTagConstraints maps the it/xt parameters onto the filter. Only state
// tags constrain the query; anything else is ignored. kept-unread is the
// complement of read.
func applyTagConstraints(filter *models.StreamFilter, include, exclude string) {
	switch normalizeUserSegment(strings.TrimSpace(include)) {
	case StateRead:
		filter.RequireRead = true
	case StateKeptUnread:
		filter.ExcludeRead = true
	case StateStarred:
		filter.RequireStars = true
	}
	switch normalizeUserSegment(strings.TrimSpace(exclude)) {
	case StateRead:
		filter.ExcludeRead = true
	case StateKeptUnread:
		filter.RequireRead = true
	case StateStarred:
		filter.ExcludeStarred = true
	}
}

func clampCount(n, ceiling int) int {
	if n <= 0 {
		return defaultPage
	}
	return min(n, ceiling)
}
