package sponsorship

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/casewatch/bigcases-bot/src/shared/types"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&types.Subscription{},
		&types.Channel{},
		&types.ChannelSubscription{},
		&types.Group{},
		&types.Sponsorship{},
		&types.Purchase{},
	))
	return db
}

func seedSponsoredGroup(t *testing.T, db *gorm.DB, subID uint64, limit int) types.Sponsorship {
	t.Helper()
	group := types.Group{Name: "big-cases"}
	require.NoError(t, db.Create(&group).Error)

	ch := types.Channel{Service: types.ServiceMastodon, Name: "main", Enabled: true, GroupID: &group.ID}
	require.NoError(t, db.Create(&ch).Error)
	require.NoError(t, db.Create(&types.ChannelSubscription{ChannelID: ch.ID, SubscriptionID: subID}).Error)

	sp := types.Sponsorship{GroupID: group.ID, WatermarkMessage: "Purchased by Acme", DocumentLimit: limit, Enabled: true}
	require.NoError(t, db.Create(&sp).Error)
	return sp
}

func TestDocumentCost(t *testing.T) {
	assert.InDelta(t, 0.10, Document{PageCount: 1}.Cost(), 0.001)
	assert.InDelta(t, 2.90, Document{PageCount: 29}.Cost(), 0.001)
	assert.InDelta(t, 3.00, Document{PageCount: 30}.Cost(), 0.001)
	assert.InDelta(t, 3.00, Document{PageCount: 500}.Cost(), 0.001)
}

func TestActiveForSubscription(t *testing.T) {
	db := testDB(t)
	sub := types.Subscription{CLDocketID: 1, Name: "A v. B", CLURL: "https://example.com", CourtID: "nysd"}
	require.NoError(t, db.Create(&sub).Error)
	sp := seedSponsoredGroup(t, db, sub.ID, 2)

	got, err := ActiveForSubscription(db, sub.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, sp.ID, got.ID)
}

func TestActiveForSubscriptionExhaustedBudget(t *testing.T) {
	db := testDB(t)
	sub := types.Subscription{CLDocketID: 1, Name: "A v. B", CLURL: "https://example.com", CourtID: "nysd"}
	require.NoError(t, db.Create(&sub).Error)
	sp := seedSponsoredGroup(t, db, sub.ID, 1)
	require.NoError(t, db.Create(&types.Purchase{
		SponsorshipID: sp.ID, SubscriptionID: sub.ID, Description: "earlier buy", PageCount: 5, Cost: 0.50,
	}).Error)

	got, err := ActiveForSubscription(db, sub.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestActiveForSubscriptionNoSponsoredGroups(t *testing.T) {
	db := testDB(t)
	sub := types.Subscription{CLDocketID: 1, Name: "A v. B", CLURL: "https://example.com", CourtID: "nysd"}
	require.NoError(t, db.Create(&sub).Error)

	ch := types.Channel{Service: types.ServiceMastodon, Name: "ungrouped", Enabled: true}
	require.NoError(t, db.Create(&ch).Error)
	require.NoError(t, db.Create(&types.ChannelSubscription{ChannelID: ch.ID, SubscriptionID: sub.ID}).Error)

	got, err := ActiveForSubscription(db, sub.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestActiveSponsorshipsOnePerGroup(t *testing.T) {
	db := testDB(t)
	sub := types.Subscription{CLDocketID: 1, Name: "A v. B", CLURL: "https://example.com", CourtID: "nysd"}
	require.NoError(t, db.Create(&sub).Error)
	first := seedSponsoredGroup(t, db, sub.ID, 5)

	// Second sponsorship on the same group must not double the ledger.
	require.NoError(t, db.Create(&types.Sponsorship{
		GroupID: first.GroupID, WatermarkMessage: "Also Acme", DocumentLimit: 5, Enabled: true,
	}).Error)

	active, err := ActiveSponsorships(db, sub.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, first.ID, active[0].ID)
}

func TestLogPurchaseWritesLedger(t *testing.T) {
	db := testDB(t)
	sub := types.Subscription{CLDocketID: 1, Name: "A v. B", CLURL: "https://example.com", CourtID: "nysd"}
	require.NoError(t, db.Create(&sub).Error)
	sp := seedSponsoredGroup(t, db, sub.ID, 5)

	doc := Document{Description: "Doc #23: MOTION", PageCount: 40, DocketNumber: "1:24-cv-01234", CourtName: "S.D.N.Y.", CourtID: "nysd"}
	require.NoError(t, LogPurchase(db, []types.Sponsorship{sp}, sub.ID, doc))

	var entries []types.Purchase
	require.NoError(t, db.Find(&entries).Error)
	require.Len(t, entries, 1)
	assert.Equal(t, sp.ID, entries[0].SponsorshipID)
	assert.Equal(t, 40, entries[0].PageCount)
	assert.InDelta(t, 3.00, entries[0].Cost, 0.001)

	// The entry now counts against the budget.
	got, err := ActiveForSubscription(db, sub.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
}
