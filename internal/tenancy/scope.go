package tenancy

// OrgColumn is the column name every org-scoped table carries. Every
// hand-written query in scheduling/payments/outbox filters on it explicitly
// rather than relying on a query-builder abstraction, matching spec.md
// §4.5's "a helper composes org-scope filters... to make this uniform" in
// spirit: the uniformity here is "always literally include org_id", not a
// runtime-composed filter object, because every query in this module is
// hand-written SQL passed to pgx, not an ORM.
const OrgColumn = "org_id"
