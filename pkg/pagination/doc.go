// Package pagination drives paginated fetches against the numbered-group
// envelope backend.
//
// A Controller turns UI actions (first page, next, previous, refresh,
// single record, unpaged list) into backend calls:
//
//	ctrl, err := pagination.New(transport, pagination.FetchConfig{
//		OperationCode: "MC06GETLIST",
//		PageSize:      10,
//	})
//	if err != nil {
//		return err
//	}
//	defer ctrl.Dispose()
//
//	ctrl.WithSuccess(func(data any) {
//		render(data.([]any), ctrl.HasMoreData())
//	}).X01(customerID)
//	_ = ctrl.FirstPage()
//
// Triggers are fire-and-forget. The controller:
//   - Collapses bursts of triggers within the debounce window (300ms) into
//     the last one
//   - Drops triggers that arrive while a fetch is in flight
//   - Moves the cursor per action before building the request; a failed
//     fetch leaves the cursor where it moved to
//   - Updates HasMoreData from Z2[0].totalCount
//   - Reports through the success, failure and secondary callbacks
//
// Config mutators are chainable and copy-on-write: a fetch uses the config
// that was current when its trigger left the debounce window.
package pagination
