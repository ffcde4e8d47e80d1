package dto

// TourStat aggregates highly rated tours of one difficulty.
type TourStat struct {
	Difficulty string  `db:"difficulty" json:"difficulty"`
	NumTours   int     `db:"num_tours" json:"numTours"`
	NumRatings int     `db:"num_ratings" json:"numRatings"`
	AvgRating  float64 `db:"avg_rating" json:"avgRating"`
	AvgPrice   float64 `db:"avg_price" json:"avgPrice"`
	MinPrice   float64 `db:"min_price" json:"minPrice"`
	MaxPrice   float64 `db:"max_price" json:"maxPrice"`
}

// MonthlyPlanEntry lists the tours starting in one month of a year.
type MonthlyPlanEntry struct {
	Month         int      `json:"month"`
	NumTourStarts int      `json:"numTourStarts"`
	Tours         []string `json:"tours"`
}

// TourDistance is the distance from a reference point to a tour start.
type TourDistance struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Distance float64 `json:"distance"`
}

// MonthlyPlanRequest selects the year and export format of a plan.
type MonthlyPlanRequest struct {
	Year   int    `uri:"year" binding:"required,gte=1970,lte=9999"`
	Format string `form:"format" binding:"omitempty,oneof=json csv pdf"`
}
